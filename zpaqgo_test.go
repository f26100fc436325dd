package zpaqgo

import (
	"bufio"
	"bytes"
	"path/filepath"
	"testing"
)

func TestDefaultOrder0HeaderRoundTrip(t *testing.T) {
	hdr, err := DefaultOrder0Header()
	if err != nil {
		t.Fatalf("DefaultOrder0Header: %v", err)
	}

	var buf bytes.Buffer
	segs := []Segment{{Filename: "greeting.txt", Data: []byte("hello, zpaqgo"), Checksum: true}}
	if err := Compress(&buf, 2, hdr, segs); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	got, err := Decompress(bufio.NewReader(&buf), true)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if len(got) != 1 || string(got[0].Data) != "hello, zpaqgo" {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeBlockFromReaderAt(t *testing.T) {
	hdr, err := DefaultOrder0Header()
	if err != nil {
		t.Fatalf("DefaultOrder0Header: %v", err)
	}
	var buf bytes.Buffer
	if err := Compress(&buf, 2, hdr, []Segment{{Filename: "f", Data: []byte("payload")}}); err != nil {
		t.Fatalf("Compress: %v", err)
	}

	ra := bytes.NewReader(buf.Bytes())
	segs, err := DecodeBlock(ra, 0, int64(buf.Len()), false)
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if len(segs) != 1 || string(segs[0].Data) != "payload" {
		t.Fatalf("got %+v", segs)
	}
}

func TestManifestSaveLoadThroughRootAlias(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.gob")
	m := &Manifest{}
	if err := SaveManifest(path, m); err != nil {
		t.Fatalf("SaveManifest: %v", err)
	}
	if _, err := LoadManifest(path); err != nil {
		t.Fatalf("LoadManifest: %v", err)
	}
}

func TestDefaultConfigHasSaneChecksumDefault(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Compress.Checksums {
		t.Fatal("expected checksums enabled by default")
	}
}
