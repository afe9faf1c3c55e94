package config

import "time"

// Default values.
const (
	DefaultTable          = "tokens"
	DefaultRateLimit      = 60
	DefaultRateWindow     = 60 * time.Second
	DefaultMaxConcurrent  = 5
	DefaultMaxRetries     = 4
	DefaultBaseDelay      = time.Second
	DefaultQuotaDelay     = 60 * time.Second
	DefaultMinInterval    = 250 * time.Millisecond
	DefaultConcurrency    = 10
	DefaultAttemptTimeout = 10 * time.Second
	DefaultLoopPolicy     = "delay"
	DefaultInterval       = 30 * time.Second
	DefaultKOTHThreshold  = "58900"
	DefaultRedisTTL       = 10 * time.Minute
	DefaultKafkaTopic     = "token-crowns"
	DefaultMetricsAddr    = ":9090"
	DefaultMetricsPath    = "/metrics"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
)

// DefaultVariants runs every variant.
var DefaultVariants = []string{"pool", "supply", "ticker"}

func (c *Config) applyDefaults() {
	if c.Store.Table == "" {
		c.Store.Table = DefaultTable
	}

	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = DefaultRateLimit
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateWindow
	}
	if c.RateLimit.MaxConcurrent == 0 {
		c.RateLimit.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.RateLimit.MaxRetries == 0 {
		c.RateLimit.MaxRetries = DefaultMaxRetries
	}
	if c.RateLimit.BaseDelay == 0 {
		c.RateLimit.BaseDelay = DefaultBaseDelay
	}
	if c.RateLimit.DefaultDelay == 0 {
		c.RateLimit.DefaultDelay = DefaultQuotaDelay
	}
	if c.RateLimit.MinInterval == 0 {
		c.RateLimit.MinInterval = DefaultMinInterval
	}

	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = DefaultConcurrency
	}
	if c.Sync.AttemptTimeout == 0 {
		c.Sync.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.Sync.LoopPolicy == "" {
		c.Sync.LoopPolicy = DefaultLoopPolicy
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = DefaultInterval
	}
	if len(c.Sync.Variants) == 0 {
		c.Sync.Variants = append([]string(nil), DefaultVariants...)
	}
	if c.Sync.KOTHThreshold == "" {
		c.Sync.KOTHThreshold = DefaultKOTHThreshold
	}

	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = DefaultKafkaTopic
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = DefaultMetricsAddr
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
