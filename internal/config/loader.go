package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable holding the YAML config path.
const EnvConfigFile = "SYNC_CONFIG_FILE"

// Load builds the configuration. path may be empty, in which case
// SYNC_CONFIG_FILE is consulted; with neither set only the environment is used.
func Load(path string) (*Config, error) {
	// Existing environment variables take precedence over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}

	cfg := &Config{}
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a YAML config file and expands ${VAR} references.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	return &cfg, nil
}

// applyEnv overrides fields whose environment variable is set.
func (c *Config) applyEnv() error {
	e := &envReader{}

	c.Store.DSN = e.str("STORE_DSN", c.Store.DSN)
	c.Store.Table = e.str("STORE_TABLE", c.Store.Table)
	c.Store.UseMemory = e.boolean("USE_MEMORY_STORE", c.Store.UseMemory)

	c.Ledger.Nodes = e.list("LEDGER_NODES", c.Ledger.Nodes)
	c.DataAPI.URLs = e.list("DATA_API_URLS", c.DataAPI.URLs)
	c.DataAPI.APIKey = e.str("DATA_API_KEY", c.DataAPI.APIKey)

	c.RateLimit.Limit = e.integer("RATE_LIMIT", c.RateLimit.Limit)
	c.RateLimit.Window = e.duration("RATE_WINDOW", c.RateLimit.Window)
	c.RateLimit.MaxConcurrent = e.integer("RATE_MAX_CONCURRENT", c.RateLimit.MaxConcurrent)
	c.RateLimit.MaxRetries = e.integer("RATE_MAX_RETRIES", c.RateLimit.MaxRetries)
	c.RateLimit.BaseDelay = e.duration("RATE_BASE_DELAY", c.RateLimit.BaseDelay)
	c.RateLimit.DefaultDelay = e.duration("RATE_DEFAULT_DELAY", c.RateLimit.DefaultDelay)
	c.RateLimit.MinInterval = e.duration("RATE_MIN_INTERVAL", c.RateLimit.MinInterval)

	c.Sync.Concurrency = e.integer("SYNC_CONCURRENCY", c.Sync.Concurrency)
	c.Sync.BatchSize = e.integer("SYNC_BATCH_SIZE", c.Sync.BatchSize)
	c.Sync.BatchPause = e.duration("SYNC_BATCH_PAUSE", c.Sync.BatchPause)
	c.Sync.AttemptTimeout = e.duration("SYNC_ATTEMPT_TIMEOUT", c.Sync.AttemptTimeout)
	c.Sync.LoopPolicy = e.str("SYNC_LOOP_POLICY", c.Sync.LoopPolicy)
	c.Sync.Interval = e.duration("SYNC_INTERVAL", c.Sync.Interval)
	c.Sync.Variants = e.list("SYNC_VARIANTS", c.Sync.Variants)
	c.Sync.KOTHThreshold = e.str("KOTH_THRESHOLD", c.Sync.KOTHThreshold)

	c.ClickHouse.DSN = e.str("CLICKHOUSE_DSN", c.ClickHouse.DSN)

	c.Redis.Addr = e.str("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = e.str("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = e.integer("REDIS_DB", c.Redis.DB)
	c.Redis.TTL = e.duration("REDIS_TTL", c.Redis.TTL)

	c.Kafka.Brokers = e.list("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = e.str("KAFKA_TOPIC", c.Kafka.Topic)

	c.Metrics.Addr = e.str("METRICS_ADDR", c.Metrics.Addr)

	c.Log.Level = e.str("LOG_LEVEL", c.Log.Level)
	c.Log.Format = e.str("LOG_FORMAT", c.Log.Format)

	return errors.Join(e.errs...)
}

// envReader collects parse errors so every bad variable is reported at once.
type envReader struct {
	errs []error
}

func (e *envReader) str(key, current string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return current
}

func (e *envReader) integer(key string, current int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return current
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return current
	}
	return n
}

func (e *envReader) boolean(key string, current bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return current
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return current
	}
	return b
}

func (e *envReader) duration(key string, current time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return current
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return current
	}
	return d
}

func (e *envReader) list(key string, current []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return current
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
