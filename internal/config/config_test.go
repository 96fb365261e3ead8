package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "postbox.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 20, cfg.Queue.Limit)
	assert.Equal(t, 1, cfg.Queue.Workers)
	assert.False(t, cfg.Queue.SendImmediately)
	assert.False(t, cfg.Encryption.Enabled)
	assert.False(t, cfg.Testing.Enabled)
	assert.Equal(t, "4320h", cfg.Retention.PruneAfter)
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	t.Setenv("POSTBOX_CONFIG", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[database]
driver = "postgres"
dsn = "postgres://localhost/postbox?sslmode=disable"

[smtp]
host = "smtp.example.com"
port = 587
from_address = "noreply@example.com"

[queue]
max_attempts = 5
limit = 50

[testing]
enabled = true
email = "test@example.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 50, cfg.Queue.Limit)
	assert.True(t, cfg.Testing.Enabled)

	// Options absent from the file keep their defaults.
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "5m", cfg.Queue.CycleBudget)
}

func TestLoadFromEnvVar(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"
`)
	t.Setenv("POSTBOX_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeConfig(t, `[queue`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateMaxAttemptsFloor(t *testing.T) {
	for _, attempts := range []int{-1, 0, 1, 2} {
		cfg := DefaultConfig()
		cfg.Queue.MaxAttempts = attempts
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 3, cfg.Queue.MaxAttempts, "max_attempts %d", attempts)
	}

	cfg := DefaultConfig()
	cfg.Queue.MaxAttempts = 7
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.Queue.MaxAttempts)
}

func TestValidateDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Driver = "oracle"
	assert.Error(t, cfg.Validate())
}

func TestValidateEncryptionNeedsSecret(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Encryption.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Encryption.Secret = "s3cr3t"
	assert.NoError(t, cfg.Validate())
}

func TestValidateTestingNeedsEmail(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Testing.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg.Testing.Email = "test@example.com"
	assert.NoError(t, cfg.Validate())
}

func TestValidateDurations(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queue.CycleBudget = "five minutes"
	assert.Error(t, cfg.Validate())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, Duration("5m", time.Hour))
	assert.Equal(t, time.Hour, Duration("", time.Hour))
	assert.Equal(t, time.Hour, Duration("garbage", time.Hour))
}
