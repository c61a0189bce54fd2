// Package config reads the optional crxpack configuration file.
//
// The file is JSONC (JSON with // and /* */ comments and trailing commas):
//
//	{
//	  // signing key, relative to the working directory
//	  "key": "keys/extension.pem",
//	  "format": 3,
//	  "store": {"dir": ".crx-store", "grpc_target": "localhost:7420", "timeout": "10s"},
//	}
//
// Command-line flags override file values; file values override Default.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// DefaultKey matches the packer's default key path.
const DefaultKey = "extension.pem"

// DefaultFormat is the container version written when none is configured.
const DefaultFormat = 3

// Config holds every setting the CLI accepts from a file.
type Config struct {
	Key    string `json:"key,omitempty"`
	Format int    `json:"format,omitempty"`
	Store  Store  `json:"store"`
}

// Store selects the artifact stores used by publish and fetch. When both
// are set, publish writes to both and fetch reads Dir first.
type Store struct {
	Dir        string `json:"dir,omitempty"`
	GRPCTarget string `json:"grpc_target,omitempty"`
	// Timeout is a time.ParseDuration string applied per remote call.
	Timeout string `json:"timeout,omitempty"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{Key: DefaultKey, Format: DefaultFormat}
}

// Parse decodes JSONC data over Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the config file at path. An empty path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Format {
	case 0, 2, 3:
	default:
		return fmt.Errorf("format must be 2 or 3, got %d", c.Format)
	}
	if _, err := c.Store.TimeoutDuration(); err != nil {
		return err
	}
	return nil
}

// TimeoutDuration parses Timeout. Empty means no timeout.
func (s Store) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("store.timeout: %w", err)
	}
	if d < 0 {
		return 0, errors.New("store.timeout must not be negative")
	}
	return d, nil
}

// Merge returns c with every non-zero field of override applied.
func (c Config) Merge(override Config) Config {
	if override.Key != "" {
		c.Key = override.Key
	}
	if override.Format != 0 {
		c.Format = override.Format
	}
	if override.Store.Dir != "" {
		c.Store.Dir = override.Store.Dir
	}
	if override.Store.GRPCTarget != "" {
		c.Store.GRPCTarget = override.Store.GRPCTarget
	}
	if override.Store.Timeout != "" {
		c.Store.Timeout = override.Store.Timeout
	}
	return c
}
