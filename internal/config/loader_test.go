package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "fieldpay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 25, cfg.Postgres.MaxOpenConns)
	assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "0 18 * * 5", cfg.Digest.Cron)
	assert.Equal(t, "$", cfg.Digest.CurrencySymbol)
}

func TestLoadFrom_YAMLOverride(t *testing.T) {
	path := writeYAML(t, `
server:
  addr: ":9090"
postgres:
  dsn: "postgres://localhost/fieldpay"
  conn_max_lifetime: 2m
session:
  ttl: 30m
logging:
  level: debug
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "postgres://localhost/fieldpay", cfg.Postgres.DSN)
	assert.Equal(t, 2*time.Minute, cfg.Postgres.ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr, "unset fields keep defaults")
}

func TestLoadFrom_EnvOverridesYAML(t *testing.T) {
	path := writeYAML(t, `
postgres:
  dsn: "postgres://yaml/fieldpay"
redis:
  addr: "yaml:6379"
`)
	t.Setenv("POSTGRES_DSN", "postgres://env/fieldpay")
	t.Setenv("REDIS_ADDR", "env:6379")
	t.Setenv("PORT", "7070")
	t.Setenv("EMAIL_API_KEY", "sg-key")
	t.Setenv("WORKER_ID", "worker-a")
	t.Setenv("SESSION_TTL", "45m")

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env/fieldpay", cfg.Postgres.DSN)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, ":7070", cfg.Server.Addr)
	assert.Equal(t, "sg-key", cfg.Digest.APIKey)
	assert.Equal(t, "worker-a", cfg.Worker.ID)
	assert.Equal(t, 45*time.Minute, cfg.Session.TTL)
}

func TestLoadFrom_MissingFileIsNotAnError(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://env/fieldpay")

	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "postgres://env/fieldpay", cfg.Postgres.DSN)
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	path := writeYAML(t, "server: [unclosed")

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing dsn", func(c *Config) { c.Postgres.DSN = "" }, "postgres.dsn"},
		{"missing redis", func(c *Config) { c.Redis.Addr = "" }, "redis.addr"},
		{"bad cron", func(c *Config) { c.Digest.Cron = "every friday" }, "digest.cron"},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }, "session.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			cfg.Postgres.DSN = "postgres://localhost/fieldpay"
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
