package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"autosave/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autosave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, 10*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 10, cfg.Engine.MaxWorkers)
	assert.Equal(t, 3, cfg.Engine.MaxAttempts)
	assert.Equal(t, "UTC", cfg.Engine.Timezone)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, domain.PeriodWeek, cfg.Digest.Period)
	assert.False(t, cfg.Digest.Enabled)

	// No signing secret yet.
	assert.Error(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9000"
  request_timeout: 3s
engine:
  max_workers: 4
  destination_timeout: 750ms
  retry_backoff: 50ms
  timezone: Europe/London
storage:
  driver: sqlite
  sqlite_path: /tmp/autosave.db
security:
  signing_secret: s3cret
digest:
  enabled: true
  cron: "0 30 8 * * *"
  period: month
log_level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 4, cfg.Engine.MaxWorkers)
	assert.Equal(t, 750*time.Millisecond, cfg.Engine.DestinationTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Engine.RetryBackoff)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, domain.PeriodMonth, cfg.Digest.Period)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", loc.String())

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("AUTOSAVE_ADDR", ":7000")
	t.Setenv("AUTOSAVE_SIGNING_SECRET", "from-env")
	t.Setenv("AUTOSAVE_SQLITE_PATH", "/var/lib/autosave.db")
	t.Setenv("AUTOSAVE_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Security.SigningSecret)
	assert.Equal(t, StorageSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/autosave.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad timezone", func(c *Config) { c.Engine.Timezone = "Mars/Olympus" }},
		{"bad driver", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"bad period", func(c *Config) { c.Digest.Period = "decade" }},
		{"bad cron", func(c *Config) { c.Digest.Enabled = true; c.Digest.Cron = "every monday" }},
		{"bad level", func(c *Config) { c.LogLevel = "chatty" }},
		{"no workers", func(c *Config) { c.Engine.MaxWorkers = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			cfg.Security.SigningSecret = "s"
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated"))
	assert.Error(t, err)
}
