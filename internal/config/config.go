// Package config loads service configuration from defaults, an optional YAML
// file and environment variables, in that order of precedence.
package config

import "time"

type Config struct {
	Server   Server   `yaml:"server"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Session  Session  `yaml:"session"`
	Location Location `yaml:"location"`
	Admin    Admin    `yaml:"admin"`
	Digest   Digest   `yaml:"digest"`
	Worker   Worker   `yaml:"worker"`
	Metrics  Metrics  `yaml:"metrics"`
	Logging  Logging  `yaml:"logging"`
}

type Server struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Session struct {
	TTL          time.Duration `yaml:"ttl"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	CacheMaxCost int64         `yaml:"cache_max_cost"`
}

type Location struct {
	StaleAfter time.Duration `yaml:"stale_after"`
}

type Admin struct {
	APIKey string `yaml:"api_key"`
}

type Digest struct {
	Cron           string `yaml:"cron"`
	FromName       string `yaml:"from_name"`
	FromAddress    string `yaml:"from_address"`
	APIKey         string `yaml:"api_key"`
	CurrencySymbol string `yaml:"currency_symbol"`
}

type Worker struct {
	ID           string        `yaml:"id"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Metrics struct {
	CollectInterval time.Duration `yaml:"collect_interval"`
}

type Logging struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Service string `yaml:"service"`
}

func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: Postgres{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: Redis{
			Addr: "localhost:6379",
		},
		Session: Session{
			TTL:          12 * time.Hour,
			CacheTTL:     time.Minute,
			CacheMaxCost: 1 << 20,
		},
		Location: Location{
			StaleAfter: 10 * time.Minute,
		},
		Digest: Digest{
			Cron:           "0 18 * * 5",
			FromName:       "Fieldpay",
			CurrencySymbol: "$",
		},
		Worker: Worker{
			PollInterval: time.Second,
		},
		Metrics: Metrics{
			CollectInterval: 10 * time.Second,
		},
		Logging: Logging{
			Level:   "info",
			Format:  "json",
			Service: "fieldpay",
		},
	}
}
