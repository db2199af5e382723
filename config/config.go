/*
config.go - Server configuration

PURPOSE:
  Loads server configuration from a TOML file, layered over built-in
  defaults. A missing config file is not an error; the defaults run a
  working local server.

SECTIONS:
  [server]   HTTP listen address and CORS origins
  [database] SQLite file path
  [sweep]    Expiration sweep timing
  [codes]    Redemption code generation
  [log]      Log level and format

SEE ALSO:
  - cmd/server/main.go: Where the config is loaded and applied
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Sweep    SweepConfig    `toml:"sweep"`
	Codes    CodesConfig    `toml:"codes"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host           string   `toml:"host"`
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// SweepConfig holds expiration sweep timing.
type SweepConfig struct {
	Enabled            bool     `toml:"enabled"`
	Interval           duration `toml:"interval"`
	ExpiringWindowDays int      `toml:"expiring_window_days"`
}

// CodesConfig holds redemption code generation settings.
type CodesConfig struct {
	Prefix      string `toml:"prefix"`
	MaxAttempts int    `toml:"max_attempts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// duration lets TOML carry durations as strings ("1h", "30m").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Path: "credits.db",
		},
		Sweep: SweepConfig{
			Enabled:            true,
			Interval:           duration{1 * time.Hour},
			ExpiringWindowDays: 7,
		},
		Codes: CodesConfig{
			Prefix:      "SC",
			MaxAttempts: 5,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Sweep.Interval.Duration <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.Sweep.Interval.Duration)
	}
	if c.Sweep.ExpiringWindowDays < 0 {
		return fmt.Errorf("expiring window days must not be negative, got %d", c.Sweep.ExpiringWindowDays)
	}
	if c.Codes.MaxAttempts <= 0 {
		return fmt.Errorf("code max attempts must be positive, got %d", c.Codes.MaxAttempts)
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ExpiringWindow returns the expiring-soon look-ahead as a duration.
func (c Config) ExpiringWindow() time.Duration {
	return time.Duration(c.Sweep.ExpiringWindowDays) * 24 * time.Hour
}
