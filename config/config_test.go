package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	want := DefaultConfig()
	if cfg.Compress.Level != want.Compress.Level || cfg.Compress.Checksums != want.Compress.Checksums {
		t.Fatalf("got %+v, want defaults %+v", cfg.Compress, want.Compress)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := DefaultConfig()
	cfg.Compress.Level = 5
	cfg.Compress.Workers = 4
	cfg.Decompress.VerifyChecksums = false

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	got, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if got.Compress.Level != 5 || got.Compress.Workers != 4 {
		t.Fatalf("Compress = %+v", got.Compress)
	}
	if got.Decompress.VerifyChecksums {
		t.Fatal("VerifyChecksums should have round-tripped to false")
	}
}

func TestLoadFromRejectsMalformedToml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("this is not = valid [[[ toml"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected parse error for malformed TOML")
	}
}
