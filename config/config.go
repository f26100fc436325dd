// Package config holds zpaqgo's archiver defaults: worker count,
// whether to write/verify SHA-1 segment checksums, and the fragment
// splitter's target sizes. It is consulted only by cmd/zpaqgo — never
// by the core decoder, which takes every parameter it needs from the
// archive itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config is zpaqgo's on-disk settings file.
type Config struct {
	Compress struct {
		Level       int    `toml:"level"`        // model level 1-5; loaded and saved only, cmd/zpaqgo always uses DefaultOrder0Header
		Workers     int    `toml:"workers"`       // 0 means runtime.NumCPU()
		Checksums   bool   `toml:"checksums"`     // store a SHA-1 trailer per segment
		SplitMethod string `toml:"split_method"`  // "fixed" or "content"
		FragAvgSize int    `toml:"frag_avg_size"` // ContentSplitter.AvgSize
		FragMinSize int    `toml:"frag_min_size"`
		FragMaxSize int    `toml:"frag_max_size"`
	} `toml:"compress"`

	Decompress struct {
		Workers         int  `toml:"workers"`
		VerifyChecksums bool `toml:"verify_checksums"`
	} `toml:"decompress"`
}

// DefaultConfig returns zpaqgo's built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Compress.Level = 3
	cfg.Compress.Workers = 0
	cfg.Compress.Checksums = true
	cfg.Compress.SplitMethod = "content"
	cfg.Compress.FragAvgSize = 64 << 10
	cfg.Compress.FragMinSize = 4 << 10
	cfg.Compress.FragMaxSize = 1 << 20

	cfg.Decompress.Workers = 0
	cfg.Decompress.VerifyChecksums = true
	return cfg
}

// GetConfigPath returns the platform-specific config file path,
// creating its containing directory if missing.
func GetConfigPath() string {
	var dir string
	switch runtime.GOOS {
	case "windows":
		dir = os.Getenv("APPDATA")
		if dir == "" {
			dir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		dir = filepath.Join(dir, "zpaqgo")
	case "darwin", "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		dir = filepath.Join(home, ".config", "zpaqgo")
	default:
		return "config.toml"
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "config.toml"
	}
	return filepath.Join(dir, "config.toml")
}

// Load reads the default config file, falling back to DefaultConfig
// if it does not exist yet.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom reads config from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes c to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo writes c to an explicit path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return nil
}
