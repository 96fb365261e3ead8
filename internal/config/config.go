// Package config loads and validates the postbox configuration from a TOML
// file, with documented defaults for every recognized option.
package config

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	// Logging configuration
	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text or json
	} `toml:"logging"`

	// Database configuration
	Database struct {
		Driver          string `toml:"driver"` // sqlite, mysql, postgres
		DSN             string `toml:"dsn"`
		MaxOpenConns    int    `toml:"max_open_conns"`
		MaxIdleConns    int    `toml:"max_idle_conns"`
		ConnMaxLifetime string `toml:"conn_max_lifetime"`
	} `toml:"database"`

	// SMTP transport configuration
	SMTP struct {
		Host        string `toml:"host"`
		Port        int    `toml:"port"`
		Username    string `toml:"username"`
		Password    string `toml:"password"`
		Timeout     string `toml:"timeout"`
		FromAddress string `toml:"from_address"`
		FromName    string `toml:"from_name"`
	} `toml:"smtp"`

	// Queue processing configuration
	Queue struct {
		// MaxAttempts is the maximum number of send attempts per e-mail.
		// Values below 3 are raised to 3.
		MaxAttempts int `toml:"max_attempts"`
		// Limit bounds how many e-mails one runner cycle may send.
		Limit int `toml:"limit"`
		// Workers > 1 delivers records of one cycle in parallel.
		Workers int `toml:"workers"`
		// CycleBudget caps the wall-clock time of one cycle; remaining
		// records are skipped and reported when it is exceeded.
		CycleBudget string `toml:"cycle_budget"`
		// SendImmediately sends synchronously at compose time instead of
		// waiting for the runner.
		SendImmediately bool `toml:"send_immediately"`
		// AttachmentRoot is the base directory attachment paths resolve
		// against. Empty means paths are used as-is.
		AttachmentRoot string `toml:"attachment_root"`
	} `toml:"queue"`

	// Encryption-at-rest configuration
	Encryption struct {
		Enabled bool   `toml:"enabled"`
		Secret  string `toml:"secret"`
		Salt    string `toml:"salt"`
	} `toml:"encryption"`

	// Testing-mode configuration. When enabled, every recipient is
	// replaced with Email and cc/bcc are emptied before persistence.
	Testing struct {
		Enabled bool   `toml:"enabled"`
		Email   string `toml:"email"`
	} `toml:"testing"`

	// Templates configuration
	Templates struct {
		Dir string `toml:"dir"`
		Ext string `toml:"ext"`
	} `toml:"templates"`

	// Redis configuration for the async dispatch queue
	Redis struct {
		Addr     string `toml:"addr"`
		Password string `toml:"password"`
		DB       int    `toml:"db"`
		Queue    string `toml:"queue"`
	} `toml:"redis"`

	// API server configuration
	API struct {
		Enabled bool   `toml:"enabled"`
		Listen  string `toml:"listen"`
	} `toml:"api"`

	// Retention configuration
	Retention struct {
		// PruneAfter is how long terminal records are kept before pruning.
		PruneAfter string `toml:"prune_after"`
		// StaleSendingAfter is how long a record may stay in sending=true
		// before the unlock command treats it as abandoned.
		StaleSendingAfter string `toml:"stale_sending_after"`
	} `toml:"retention"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "postbox.db"
	cfg.Database.MaxOpenConns = 25
	cfg.Database.MaxIdleConns = 5
	cfg.Database.ConnMaxLifetime = "5m"

	cfg.SMTP.Host = "localhost"
	cfg.SMTP.Port = 25
	cfg.SMTP.Timeout = "30s"

	cfg.Queue.MaxAttempts = 3
	cfg.Queue.Limit = 20
	cfg.Queue.Workers = 1
	cfg.Queue.CycleBudget = "5m"

	cfg.Templates.Dir = "templates"
	cfg.Templates.Ext = ".html"

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.Queue = "postbox:jobs"

	cfg.API.Listen = ":8025"

	cfg.Retention.PruneAfter = "4320h" // ~6 months
	cfg.Retention.StaleSendingAfter = "1h"

	return cfg
}

// Load reads the configuration file at path, falling back to the
// POSTBOX_CONFIG environment variable and then to defaults when no file is
// given. Options absent from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("POSTBOX_CONFIG")
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	// max_attempts has a floor of 3; a lower value silently loses retries.
	if c.Queue.MaxAttempts < 3 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.Limit <= 0 {
		c.Queue.Limit = 20
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 1
	}

	switch c.Database.Driver {
	case "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Encryption.Enabled && c.Encryption.Secret == "" {
		return fmt.Errorf("encryption enabled but no secret configured")
	}
	if c.Testing.Enabled && c.Testing.Email == "" {
		return fmt.Errorf("testing mode enabled but no test e-mail configured")
	}

	for _, d := range []struct {
		name  string
		value string
	}{
		{"database.conn_max_lifetime", c.Database.ConnMaxLifetime},
		{"smtp.timeout", c.SMTP.Timeout},
		{"queue.cycle_budget", c.Queue.CycleBudget},
		{"retention.prune_after", c.Retention.PruneAfter},
		{"retention.stale_sending_after", c.Retention.StaleSendingAfter},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}

	return nil
}

// Duration parses a duration option that Validate already checked,
// returning fallback for empty values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
