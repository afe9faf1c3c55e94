// Package main runs the token sync daemon:
// - pool variant: AMM reserves from ledger nodes
// - supply variant: issuer obligations from ledger nodes
// - ticker variant: prices from the rate-limited data API
//
// With -once it runs a single cycle and exits; otherwise it loops until
// SIGINT or SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/config"
	"xrpl-token-sync/internal/failover"
	"xrpl-token-sync/internal/ledger"
	"xrpl-token-sync/internal/logging"
	"xrpl-token-sync/internal/marketdata"
	"xrpl-token-sync/internal/notify"
	"xrpl-token-sync/internal/observability"
	"xrpl-token-sync/internal/ratelimit"
	"xrpl-token-sync/internal/scheduler"
	"xrpl-token-sync/internal/storage"
	chstore "xrpl-token-sync/internal/storage/clickhouse"
	"xrpl-token-sync/internal/storage/memory"
	"xrpl-token-sync/internal/storage/migrations"
	pgstore "xrpl-token-sync/internal/storage/postgres"
	"xrpl-token-sync/internal/storage/rediscache"
	"xrpl-token-sync/internal/syncer"
)

const shutdownTimeout = 10 * time.Second

// sinks holds the optional best-effort outputs of a runner.
type sinks struct {
	snapshots storage.PoolSnapshotStore
	cache     storage.MetricsCache
	publisher notify.CrownPublisher
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config (default $"+config.EnvConfigFile+")")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *once); err != nil {
		logger.Error().Err(err).Msg("sync daemon failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, once bool) error {
	m := observability.NewMetrics("", nil)

	store, closeStore, err := createStore(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	out, closeSinks, err := createSinks(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	limiter := ratelimit.New(ratelimit.Options{
		Limit:         cfg.RateLimit.Limit,
		Window:        cfg.RateLimit.Window,
		MaxConcurrent: cfg.RateLimit.MaxConcurrent,
		MinInterval:   cfg.RateLimit.MinInterval,
		DefaultDelay:  cfg.RateLimit.DefaultDelay,
		Retry: ratelimit.RetryPolicy{
			BaseDelay:  cfg.RateLimit.BaseDelay,
			MaxRetries: cfg.RateLimit.MaxRetries,
		},
		Logger:  logger.With().Str("component", "ratelimit").Logger(),
		Metrics: m,
	})
	client := failover.NewClient(failover.Options{
		AttemptTimeout: cfg.Sync.AttemptTimeout,
		Limiter:        limiter,
		Logger:         logger.With().Str("component", "failover").Logger(),
		Metrics:        m,
	})

	variants, err := createVariants(cfg, client)
	if err != nil {
		return err
	}

	runners := make([]*syncer.Runner, 0, len(variants))
	for _, v := range variants {
		r, err := syncer.NewRunner(syncer.RunnerOptions{
			Variant:     v,
			Store:       store,
			Snapshots:   out.snapshots,
			Cache:       out.cache,
			Publisher:   out.publisher,
			Concurrency: cfg.Sync.Concurrency,
			BatchSize:   cfg.Sync.BatchSize,
			BatchPause:  cfg.Sync.BatchPause,
			Limiter:     limiterFor(v, limiter),
			Logger:      logger,
			Metrics:     m,
		})
		if err != nil {
			return fmt.Errorf("runner %s: %w", v.Name(), err)
		}
		runners = append(runners, r)
	}

	policy, err := scheduler.ParsePolicy(cfg.Sync.LoopPolicy)
	if err != nil {
		return err
	}
	engine := syncer.NewEngine(runners, syncer.EngineOptions{
		Policy:   policy,
		Interval: cfg.Sync.Interval,
		Logger:   logger,
		Metrics:  m,
	})

	if once {
		res, err := engine.RunOneCycle(ctx)
		if res != nil {
			logger.Info().
				Str("cycle_id", res.CycleID).
				Int("updated", res.Updated).
				Int("failed", res.Failed).
				Int("skipped", res.Skipped).
				Dur("duration", res.Duration).
				Msg("single cycle finished")
		}
		return err
	}

	srv := startHTTPServer(cfg.Metrics, engine, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server shutdown")
		}
	}()

	logger.Info().
		Strs("variants", cfg.Sync.Variants).
		Str("policy", string(policy)).
		Msg("sync daemon started")

	err = engine.StartContinuousLoop(ctx)
	logger.Info().Msg("shutdown complete")
	return err
}

// createStore opens the token record store, running migrations for Postgres.
func createStore(ctx context.Context, cfg *config.Config, m *observability.Metrics, logger zerolog.Logger) (storage.TokenStore, func(), error) {
	if cfg.Store.UseMemory {
		logger.Warn().Msg("using in-memory token store")
		return memory.NewTokenStore(), func() {}, nil
	}

	var opts []pgstore.PoolOption
	if cfg.Store.MaxConns > 0 {
		opts = append(opts, pgstore.WithMaxConns(cfg.Store.MaxConns))
	}
	pool, err := pgstore.NewPool(ctx, cfg.Store.DSN, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool, migrations.Params{TokenTable: cfg.Store.Table}); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	store, err := pgstore.NewTokenStore(pool, cfg.Store.Table, pgstore.WithMetrics(m))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info().Str("table", cfg.Store.Table).Msg("postgres token store ready")
	return store, pool.Close, nil
}

// createSinks opens the optional snapshot history, cache and crown publisher.
// A sink that is not configured is left nil.
func createSinks(ctx context.Context, cfg *config.Config, m *observability.Metrics, logger zerolog.Logger) (*sinks, func(), error) {
	out := &sinks{}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.ClickHouse.DSN != "" {
		if err := chstore.EnsureDatabase(ctx, cfg.ClickHouse.DSN); err != nil {
			return nil, nil, fmt.Errorf("clickhouse database: %w", err)
		}
		conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect clickhouse: %w", err)
		}
		closers = append(closers, func() { _ = conn.Close() })
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		out.snapshots = chstore.NewPoolSnapshotStore(conn, m)
		logger.Info().Msg("pool snapshot history enabled")
	}

	if cfg.Redis.Addr != "" {
		cache, err := rediscache.New(ctx, rediscache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		closers = append(closers, func() { _ = cache.Close() })
		out.cache = cache
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("latest metrics cache enabled")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub, err := notify.NewKafkaPublisher(notify.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn().Err(err).Msg("close kafka publisher")
			}
		})
		out.publisher = pub
		logger.Info().Str("topic", cfg.Kafka.Topic).Msg("crown events enabled")
	}

	return out, closeAll, nil
}

func createVariants(cfg *config.Config, client *failover.Client) ([]syncer.Variant, error) {
	threshold, err := decimal.NewFromString(cfg.Sync.KOTHThreshold)
	if err != nil {
		return nil, fmt.Errorf("koth threshold: %w", err)
	}

	var nodes, apis []failover.Endpoint
	for _, u := range cfg.Ledger.Nodes {
		n, err := ledger.NewNode(u, nil)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	for _, u := range cfg.DataAPI.URLs {
		var opts []marketdata.Option
		if cfg.DataAPI.APIKey != "" {
			opts = append(opts, marketdata.WithAPIKey(cfg.DataAPI.APIKey))
		}
		e, err := marketdata.NewEndpoint(u, opts...)
		if err != nil {
			return nil, err
		}
		apis = append(apis, e)
	}

	variants := make([]syncer.Variant, 0, len(cfg.Sync.Variants))
	for _, name := range cfg.Sync.Variants {
		switch name {
		case "pool":
			variants = append(variants, syncer.NewPoolVariant(client, nodes, threshold))
		case "supply":
			variants = append(variants, syncer.NewSupplyVariant(client, nodes, threshold))
		case "ticker":
			variants = append(variants, syncer.NewTickerVariant(client, apis, threshold))
		default:
			return nil, fmt.Errorf("unknown variant %q", name)
		}
	}
	return variants, nil
}

// limiterFor paces batches only for variants that hit the rate-limited API.
func limiterFor(v syncer.Variant, l *ratelimit.Limiter) *ratelimit.Limiter {
	if _, ok := v.(*syncer.TickerVariant); ok {
		return l
	}
	return nil
}

type healthResponse struct {
	Status    string         `json:"status"`
	Loop      string         `json:"loop"`
	LastCycle *cycleResponse `json:"last_cycle,omitempty"`
}

type cycleResponse struct {
	ID         string `json:"id"`
	Updated    int    `json:"updated"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	DurationMs int64  `json:"duration_ms"`
}

func startHTTPServer(cfg config.MetricsConfig, engine *syncer.Engine, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		resp := healthResponse{Status: "ok", Loop: engine.Loop().State().String()}
		if last := engine.LastResult(); last != nil {
			resp.LastCycle = &cycleResponse{
				ID:         last.CycleID,
				Updated:    last.Updated,
				Failed:     last.Failed,
				Skipped:    last.Skipped,
				DurationMs: last.Duration.Milliseconds(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
		}
	}()
	return srv
}
