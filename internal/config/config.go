// Package config loads process configuration from an optional .env file, an
// optional YAML file and environment variables, in that order of precedence
// (environment wins).
package config

import "time"

// Config is the root configuration for the sync daemon.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	DataAPI    DataAPIConfig    `yaml:"data_api"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Sync       SyncConfig       `yaml:"sync"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// StoreConfig selects the token record store.
type StoreConfig struct {
	DSN       string `yaml:"dsn"`        // Postgres connection string
	Table     string `yaml:"table"`      // token document table
	UseMemory bool   `yaml:"use_memory"` // in-memory store, for local runs
	MaxConns  int32  `yaml:"max_conns"`
}

// LedgerConfig lists ledger node websocket URLs in failover order.
type LedgerConfig struct {
	Nodes []string `yaml:"nodes"`
}

// DataAPIConfig lists HTTP data API base URLs in failover order.
type DataAPIConfig struct {
	URLs   []string `yaml:"urls"`
	APIKey string   `yaml:"api_key"`
}

// RateLimitConfig configures the adaptive limiter for rate-limited endpoints.
type RateLimitConfig struct {
	Limit         int           `yaml:"limit"`
	Window        time.Duration `yaml:"window"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	DefaultDelay  time.Duration `yaml:"default_delay"`
	MinInterval   time.Duration `yaml:"min_interval"`
}

// SyncConfig configures the runner and scheduling loop.
type SyncConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	BatchSize      int           `yaml:"batch_size"` // 0 = worker pool
	BatchPause     time.Duration `yaml:"batch_pause"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	LoopPolicy     string        `yaml:"loop_policy"` // immediate | interval | delay
	Interval       time.Duration `yaml:"interval"`
	Variants       []string      `yaml:"variants"`
	KOTHThreshold  string        `yaml:"koth_threshold"` // decimal string
}

// ClickHouseConfig enables the pool snapshot history when DSN is set.
type ClickHouseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the latest-metrics cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// KafkaConfig enables crown event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// LogConfig selects log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | console
}
