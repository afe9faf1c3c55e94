package syncer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/storage"
	"xrpl-token-sync/internal/storage/memory"
)

// fakeVariant computes a fixed price for every token unless fn overrides it.
type fakeVariant struct {
	name     string
	eligible func(*domain.Token) bool
	fn       func(ctx context.Context, tok *domain.Token, now time.Time) (*Update, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (v *fakeVariant) Name() string           { return v.name }
func (v *fakeVariant) Filter() storage.Filter { return storage.Filter{} }
func (v *fakeVariant) Fields() []string       { return nil }

func (v *fakeVariant) Eligible(tok *domain.Token) bool {
	if v.eligible == nil {
		return true
	}
	return v.eligible(tok)
}

func (v *fakeVariant) Sync(ctx context.Context, tok *domain.Token, now time.Time) (*Update, error) {
	n := v.inFlight.Add(1)
	defer v.inFlight.Add(-1)
	for {
		m := v.maxInFlight.Load()
		if n <= m || v.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	if v.fn != nil {
		return v.fn(ctx, tok, now)
	}
	return &Update{Fields: storage.FieldSet{
		domain.FieldSpotPrice:    decimal.RequireFromString("1.25"),
		domain.FieldLastSyncedAt: now.UnixMilli(),
	}}, nil
}

func tokenKey(i int) domain.TokenKey {
	return domain.TokenKey{Issuer: fmt.Sprintf("rIssuer%02d", i), Currency: "TST"}
}

func seedStore(t *testing.T, n int) *memory.TokenStore {
	t.Helper()
	store := memory.NewTokenStore()
	for i := 1; i <= n; i++ {
		require.NoError(t, store.MergeUpsert(context.Background(), tokenKey(i), storage.FieldSet{
			domain.FieldName: fmt.Sprintf("Token %d", i),
		}))
	}
	return store
}

// failingStore rejects merges for one key.
type failingStore struct {
	storage.TokenStore
	bad domain.TokenKey
}

func (s *failingStore) MergeUpsert(ctx context.Context, key domain.TokenKey, fields storage.FieldSet) error {
	if key == s.bad {
		return &storage.PersistenceError{Op: "merge upsert", Key: key.String(), Err: errors.New("disk full")}
	}
	return s.TokenStore.MergeUpsert(ctx, key, fields)
}

func TestRunner_BatchIsolation(t *testing.T) {
	for _, batchSize := range []int{0, 3} {
		t.Run(fmt.Sprintf("batch=%d", batchSize), func(t *testing.T) {
			store := seedStore(t, 10)
			bad := tokenKey(5)
			variant := &fakeVariant{name: "fake"}
			variant.fn = func(_ context.Context, tok *domain.Token, now time.Time) (*Update, error) {
				if tok.Key == bad {
					return nil, errors.New("metrics computation failed")
				}
				return &Update{Fields: storage.FieldSet{domain.FieldSpotPrice: decimal.NewFromInt(2)}}, nil
			}

			runner, err := NewRunner(RunnerOptions{
				Variant:     variant,
				Store:       store,
				Concurrency: 4,
				BatchSize:   batchSize,
				BatchPause:  time.Millisecond,
			})
			require.NoError(t, err)

			res, err := runner.RunOnce(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 10, res.Eligible)
			assert.Equal(t, 9, res.Updated)
			assert.Equal(t, 1, res.Failed)
			require.Len(t, res.Failures, 1)
			assert.Equal(t, bad, res.Failures[0].Key)

			persisted, err := store.FindEligible(context.Background(), storage.Filter{Exists: []string{domain.FieldSpotPrice}})
			require.NoError(t, err)
			assert.Len(t, persisted, 9)
		})
	}
}

func TestRunner_BatchRunsFullyInParallel(t *testing.T) {
	store := seedStore(t, 6)
	var arrived atomic.Int32
	variant := &fakeVariant{name: "fake"}
	variant.fn = func(ctx context.Context, _ *domain.Token, now time.Time) (*Update, error) {
		arrived.Add(1)
		deadline := time.Now().Add(time.Second)
		for arrived.Load() < 6 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		return &Update{Fields: storage.FieldSet{domain.FieldLastSyncedAt: now.UnixMilli()}}, nil
	}

	runner, err := NewRunner(RunnerOptions{Variant: variant, Store: store, Concurrency: 2, BatchSize: 6})
	require.NoError(t, err)

	res, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, res.Updated)
	assert.Equal(t, int32(6), variant.maxInFlight.Load())
}

func TestNewRunner_ClampsBatchSize(t *testing.T) {
	runner, err := NewRunner(RunnerOptions{Variant: &fakeVariant{name: "fake"}, Store: seedStore(t, 0), BatchSize: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxConcurrency, runner.batchSize)
}

func TestRunner_PersistenceFailureIsolated(t *testing.T) {
	base := seedStore(t, 4)
	store := &failingStore{TokenStore: base, bad: tokenKey(2)}

	runner, err := NewRunner(RunnerOptions{Variant: &fakeVariant{name: "fake"}, Store: store})
	require.NoError(t, err)

	res, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	require.Equal(t, 1, res.Failed)
	assert.ErrorIs(t, res.Failures[0].Err, storage.ErrPersistence)
}

func TestRunner_PanicIsolated(t *testing.T) {
	store := seedStore(t, 3)
	variant := &fakeVariant{name: "fake"}
	variant.fn = func(_ context.Context, tok *domain.Token, _ time.Time) (*Update, error) {
		if tok.Key == tokenKey(1) {
			panic("nil pool")
		}
		return &Update{Fields: storage.FieldSet{domain.FieldSpotPrice: decimal.NewFromInt(1)}}, nil
	}

	runner, err := NewRunner(RunnerOptions{Variant: variant, Store: store})
	require.NoError(t, err)

	res, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated)
	assert.Equal(t, 1, res.Failed)
}

func TestRunner_SkipsIneligible(t *testing.T) {
	store := seedStore(t, 4)
	variant := &fakeVariant{name: "fake", eligible: func(tok *domain.Token) bool {
		return tok.Key != tokenKey(3)
	}}

	runner, err := NewRunner(RunnerOptions{Variant: variant, Store: store})
	require.NoError(t, err)

	res, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 0, res.Failed)
}

func TestRunner_ConcurrencyBound(t *testing.T) {
	store := seedStore(t, 20)
	variant := &fakeVariant{name: "fake"}

	runner, err := NewRunner(RunnerOptions{Variant: variant, Store: store, Concurrency: 3})
	require.NoError(t, err)

	res, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 20, res.Updated)
	assert.LessOrEqual(t, variant.maxInFlight.Load(), int32(3))
}

func TestRunner_ConcurrencyClamped(t *testing.T) {
	runner, err := NewRunner(RunnerOptions{Variant: &fakeVariant{name: "fake"}, Store: memory.NewTokenStore(), Concurrency: 500})
	require.NoError(t, err)
	assert.Equal(t, MaxConcurrency, runner.concurrency)

	_, err = NewRunner(RunnerOptions{Store: memory.NewTokenStore()})
	assert.Error(t, err)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.CrownEvent
}

func (p *recordingPublisher) PublishCrown(_ context.Context, ev *domain.CrownEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type brokenSnapshots struct{}

func (brokenSnapshots) Insert(context.Context, *domain.PoolSnapshot) error {
	return errors.New("clickhouse unavailable")
}

func (brokenSnapshots) GetByTokenKey(context.Context, string, int64, int64) ([]*domain.PoolSnapshot, error) {
	return nil, nil
}

func TestRunner_SinksAreBestEffort(t *testing.T) {
	store := seedStore(t, 2)
	cache := memory.NewMetricsCache()
	pub := &recordingPublisher{}
	now := time.UnixMilli(1700000000000)

	variant := &fakeVariant{name: "fake"}
	variant.fn = func(_ context.Context, tok *domain.Token, now time.Time) (*Update, error) {
		upd := &Update{
			Fields:    storage.FieldSet{domain.FieldMarketCap: decimal.NewFromInt(60000)},
			Snapshot:  &domain.PoolSnapshot{TokenKey: tok.Key.String(), TimestampMs: now.UnixMilli(), Source: "fake"},
			MarketCap: decimal.NewFromInt(60000),
		}
		crown(upd, tok, upd.MarketCap, decimal.NewFromInt(58900), now)
		return upd, nil
	}

	runner, err := NewRunner(RunnerOptions{
		Variant:   variant,
		Store:     store,
		Snapshots: brokenSnapshots{},
		Cache:     cache,
		Publisher: pub,
		Clock:     func() time.Time { return now },
	})
	require.NoError(t, err)

	res, err := runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Updated, "snapshot failures must not fail the token")
	assert.Len(t, pub.events, 2)

	cached, err := cache.GetLatest(context.Background(), tokenKey(1).String())
	require.NoError(t, err)
	assert.JSONEq(t, `"60000"`, string(cached[domain.FieldMarketCap]))

	tok, err := store.GetByKey(context.Background(), tokenKey(1))
	require.NoError(t, err)
	require.NotNil(t, tok.KingOfTheHill)
	assert.Equal(t, now.UnixMilli(), tok.KingOfTheHill.Timestamp)

	// Second pass: the stored crown suppresses a new award and event.
	variant.fn = func(_ context.Context, tok *domain.Token, now time.Time) (*Update, error) {
		upd := &Update{Fields: storage.FieldSet{domain.FieldMarketCap: decimal.NewFromInt(70000)}}
		crown(upd, tok, decimal.NewFromInt(70000), decimal.NewFromInt(58900), now)
		return upd, nil
	}
	// The fake variant has no projection, so the whole document is loaded.
	_, err = runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.events, 2)
}

func TestRunner_CrownLogIsFixedPoint(t *testing.T) {
	store := seedStore(t, 1)
	huge := decimal.RequireFromString("1.5e+25")

	variant := &fakeVariant{name: "fake"}
	variant.fn = func(_ context.Context, tok *domain.Token, now time.Time) (*Update, error) {
		upd := &Update{Fields: storage.FieldSet{domain.FieldMarketCap: huge}, MarketCap: huge}
		crown(upd, tok, huge, decimal.NewFromInt(58900), now)
		return upd, nil
	}

	var logs bytes.Buffer
	runner, err := NewRunner(RunnerOptions{Variant: variant, Store: store, Logger: zerolog.New(&logs)})
	require.NoError(t, err)

	_, err = runner.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"market_cap":"15000000000000000000000000"`)
}

func TestRunner_CancelledContext(t *testing.T) {
	store := seedStore(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner, err := NewRunner(RunnerOptions{Variant: &fakeVariant{name: "fake"}, Store: store, BatchSize: 2})
	require.NoError(t, err)

	res, err := runner.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.Updated)
}

func TestCycleID(t *testing.T) {
	assert.Equal(t, "", CycleID(context.Background()))
	assert.Equal(t, "abc", CycleID(WithCycleID(context.Background(), "abc")))
}
