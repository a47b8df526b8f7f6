package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"autosave/internal/domain"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
)

// Config holds all application configuration.
type Config struct {
	Server struct {
		Addr           string        `yaml:"addr"`
		MetricsAddr    string        `yaml:"metrics_addr"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"server"`
	Engine struct {
		MaxWorkers         int           `yaml:"max_workers"`
		DestinationTimeout time.Duration `yaml:"destination_timeout"`
		MaxAttempts        int           `yaml:"max_attempts"`
		RetryBackoff       time.Duration `yaml:"retry_backoff"`
		Timezone           string        `yaml:"timezone"`
	} `yaml:"engine"`
	Storage struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"storage"`
	Security struct {
		SigningSecret string `yaml:"signing_secret"`
	} `yaml:"security"`
	Digest struct {
		Enabled bool          `yaml:"enabled"`
		Cron    string        `yaml:"cron"`
		Period  domain.Period `yaml:"period"`
	} `yaml:"digest"`
	LogLevel string `yaml:"log_level"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("AUTOSAVE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AUTOSAVE_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("AUTOSAVE_SQLITE_PATH"); v != "" {
		c.Storage.Driver = StorageSQLite
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("AUTOSAVE_SIGNING_SECRET"); v != "" {
		c.Security.SigningSecret = v
	}
	if v := os.Getenv("AUTOSAVE_TIMEZONE"); v != "" {
		c.Engine.Timezone = v
	}
	if v := os.Getenv("AUTOSAVE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AUTOSAVE_DIGEST_CRON"); v != "" {
		c.Digest.Cron = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = ":9090"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 10 * time.Second
	}
	if c.Engine.MaxWorkers == 0 {
		c.Engine.MaxWorkers = 10
	}
	if c.Engine.DestinationTimeout == 0 {
		c.Engine.DestinationTimeout = 5 * time.Second
	}
	if c.Engine.MaxAttempts == 0 {
		c.Engine.MaxAttempts = 3
	}
	if c.Engine.RetryBackoff == 0 {
		c.Engine.RetryBackoff = 200 * time.Millisecond
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "UTC"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/autosave.db"
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 0 9 * * 1"
	}
	if c.Digest.Period == "" {
		c.Digest.Period = domain.PeriodWeek
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	if c.Security.SigningSecret == "" {
		return fmt.Errorf("security.signing_secret is required")
	}
	if c.Engine.MaxWorkers < 1 {
		return fmt.Errorf("engine.max_workers must be positive")
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be positive")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("engine.timezone: %w", err)
	}
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageMemory, StorageSQLite, c.Storage.Driver)
	}
	if _, ok := c.Digest.Period.StartFrom(time.Now()); !ok {
		return fmt.Errorf("digest.period %q is not a known period", c.Digest.Period)
	}
	if c.Digest.Enabled {
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(c.Digest.Cron); err != nil {
			return fmt.Errorf("digest.cron: %w", err)
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Engine.Timezone)
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
