// Package config loads engine and server settings for the binaries.
// The library itself takes explicit options; this package only merges
// a YAML file, an optional .env file and environment overrides.
package config

import (
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig tunes the substrate engine.
type StoreConfig struct {
	Path string `yaml:"path"`
	// Sync fsyncs every committed batch.
	Sync bool `yaml:"sync"`
	// CacheSize is a humanized byte size for the block cache,
	// e.g. "128MB". Empty keeps the engine default.
	CacheSize string `yaml:"cache_size"`
}

// CacheBytes parses the humanized cache size.
func (s StoreConfig) CacheBytes() (int64, error) {
	if strings.TrimSpace(s.CacheSize) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s.CacheSize)
	if err != nil {
		return 0, errors.Wrapf(err, "bad cache_size %q", s.CacheSize)
	}
	return int64(n), nil
}

// ServerConfig holds the HTTP listen settings for ustored.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig selects the log level ("debug", "info", "warn", "error").
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Store:   StoreConfig{Path: "./ustore-data", Sync: true},
		Server:  ServerConfig{Address: "127.0.0.1", Port: 8321},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (optional), merges a .env file when
// present and applies environment overrides.
func Load(path string) (*Config, error) {
	// .env is a convenience for local runs; ignore when absent
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if v := os.Getenv("USTORE_DB_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("USTORE_ADDR"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("USTORE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}
