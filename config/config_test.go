package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-ledger/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "credits.db", cfg.Database.Path)
	assert.True(t, cfg.Sweep.Enabled)
	assert.Equal(t, time.Hour, cfg.Sweep.Interval.Duration)
	assert.Equal(t, 7, cfg.Sweep.ExpiringWindowDays)
	assert.Equal(t, "SC", cfg.Codes.Prefix)
	assert.Equal(t, 5, cfg.Codes.MaxAttempts)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
	assert.Equal(t, 7*24*time.Hour, cfg.ExpiringWindow())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	// GIVEN: A config file setting some fields
	// WHEN: Loading
	// THEN: Set fields win, unset fields keep defaults

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = 9090

[database]
path = "/var/lib/credits/credits.db"

[sweep]
interval = "30m"
expiring_window_days = 3

[codes]
prefix = "GIFT"

[log]
level = "debug"
json = true
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset field keeps default")
	assert.Equal(t, "/var/lib/credits/credits.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.Interval.Duration)
	assert.Equal(t, 3, cfg.Sweep.ExpiringWindowDays)
	assert.Equal(t, "GIFT", cfg.Codes.Prefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
}

func TestLoad_InvalidValuesRejected(t *testing.T) {
	cases := []struct {
		name string
		toml string
	}{
		{"bad port", "[server]\nport = 70000\n"},
		{"zero sweep interval", "[sweep]\ninterval = \"0s\"\n"},
		{"negative window", "[sweep]\nexpiring_window_days = -1\n"},
		{"zero code attempts", "[codes]\nmax_attempts = 0\n"},
		{"unparsable duration", "[sweep]\ninterval = \"soon\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(tc.toml), 0o644))

			_, err := config.Load(path)
			assert.Error(t, err)
		})
	}
}
