package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	var errs []error

	if !c.Store.UseMemory && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn is required unless store.use_memory is set"))
	}

	variants := make(map[string]bool, len(c.Sync.Variants))
	for _, v := range c.Sync.Variants {
		switch v {
		case "pool", "supply", "ticker":
			variants[v] = true
		default:
			errs = append(errs, fmt.Errorf("sync.variants: unknown variant %q", v))
		}
	}

	if (variants["pool"] || variants["supply"]) && len(c.Ledger.Nodes) == 0 {
		errs = append(errs, errors.New("ledger.nodes is required for the pool and supply variants"))
	}
	for _, n := range c.Ledger.Nodes {
		if err := checkURL(n, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("ledger.nodes: %w", err))
		}
	}

	if variants["ticker"] && len(c.DataAPI.URLs) == 0 {
		errs = append(errs, errors.New("data_api.urls is required for the ticker variant"))
	}
	for _, u := range c.DataAPI.URLs {
		if err := checkURL(u, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("data_api.urls: %w", err))
		}
	}

	if c.RateLimit.Limit < 1 {
		errs = append(errs, errors.New("rate_limit.limit must be positive"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	if c.RateLimit.MaxConcurrent < 1 {
		errs = append(errs, errors.New("rate_limit.max_concurrent must be positive"))
	}
	if c.RateLimit.MaxRetries < 0 {
		errs = append(errs, errors.New("rate_limit.max_retries must not be negative"))
	}

	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 50 {
		errs = append(errs, fmt.Errorf("sync.concurrency must be in [1, 50], got %d", c.Sync.Concurrency))
	}
	if c.Sync.BatchSize < 0 {
		errs = append(errs, errors.New("sync.batch_size must not be negative"))
	}
	if c.Sync.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("sync.attempt_timeout must be positive"))
	}
	switch c.Sync.LoopPolicy {
	case "immediate", "interval", "delay":
	default:
		errs = append(errs, fmt.Errorf("sync.loop_policy: unknown policy %q", c.Sync.LoopPolicy))
	}
	if _, err := decimal.NewFromString(c.Sync.KOTHThreshold); err != nil {
		errs = append(errs, fmt.Errorf("sync.koth_threshold: %w", err))
	}

	if c.ClickHouse.DSN != "" {
		if err := checkURL(c.ClickHouse.DSN, "clickhouse", "tcp"); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse.dsn: %w", err))
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q: scheme must be one of %s", raw, strings.Join(schemes, ", "))
}
