package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const DefaultConfigFile = "fieldpay.yaml"

func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom applies defaults, then the YAML file at path (optional), then the
// environment.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, path); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

func loadEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	setString(&cfg.Postgres.DSN, "POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "POSTGRES_MAX_OPEN_CONNS")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setDuration(&cfg.Session.TTL, "SESSION_TTL")
	setDuration(&cfg.Location.StaleAfter, "LOCATION_STALE_AFTER")
	setString(&cfg.Admin.APIKey, "ADMIN_API_KEY")
	setString(&cfg.Digest.Cron, "DIGEST_CRON")
	setString(&cfg.Digest.FromName, "FROM_NAME")
	setString(&cfg.Digest.FromAddress, "FROM_ADDRESS")
	setString(&cfg.Digest.APIKey, "EMAIL_API_KEY")
	setString(&cfg.Worker.ID, "WORKER_ID")
	setDuration(&cfg.Worker.PollInterval, "WORKER_POLL_INTERVAL")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required (POSTGRES_DSN)")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return errors.New("worker.poll_interval must be positive")
	}
	if _, err := cron.ParseStandard(c.Digest.Cron); err != nil {
		return fmt.Errorf("digest.cron %q: %w", c.Digest.Cron, err)
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
