package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_TriggerWhileRunningIsNoop(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	loop := New(func(ctx context.Context, _ uuid.UUID) error {
		calls.Add(1)
		close(started)
		<-release
		return nil
	}, Options{})

	done := make(chan CycleStats)
	go func() {
		stats, ok := loop.Trigger(context.Background())
		assert.True(t, ok)
		done <- stats
	}()

	<-started
	assert.Equal(t, Running, loop.State())

	_, ok := loop.Trigger(context.Background())
	assert.False(t, ok, "second trigger must not start a cycle")
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	stats := <-done
	assert.NoError(t, stats.Err)
	assert.NotEqual(t, uuid.Nil, stats.ID)
	assert.Equal(t, Idle, loop.State())

	// A new cycle can start after completion.
	var ran bool
	_, ok = loop.TryRun(context.Background(), func(context.Context, uuid.UUID) error {
		ran = true
		return nil
	})
	assert.True(t, ok)
	assert.True(t, ran)
}

func TestLoop_RecordsStatsAndErrors(t *testing.T) {
	clock := time.Unix(1700000000, 0)
	boom := errors.New("boom")

	loop := New(func(context.Context, uuid.UUID) error {
		clock = clock.Add(3 * time.Second)
		return boom
	}, Options{Clock: func() time.Time { return clock }})

	_, ok := loop.LastCycle()
	assert.False(t, ok)

	stats, ok := loop.Trigger(context.Background())
	require.True(t, ok)
	assert.ErrorIs(t, stats.Err, boom)
	assert.Equal(t, 3*time.Second, stats.Duration)
	assert.Equal(t, time.Unix(1700000000, 0), stats.StartedAt)

	last, ok := loop.LastCycle()
	require.True(t, ok)
	assert.Equal(t, stats.ID, last.ID)
	assert.Equal(t, Idle, loop.State(), "errored cycle returns to idle")
}

func TestLoop_PanicReturnsToIdle(t *testing.T) {
	loop := New(func(context.Context, uuid.UUID) error {
		panic("bad cycle")
	}, Options{})

	stats, ok := loop.Trigger(context.Background())
	require.True(t, ok)
	assert.Error(t, stats.Err)
	assert.Equal(t, Idle, loop.State())
}

func TestLoop_RunDelayStopsOnCancel(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	loop := New(func(context.Context, uuid.UUID) error {
		if calls.Add(1) == 3 {
			cancel()
		}
		return nil
	}, Options{Policy: PolicyDelay, Interval: time.Millisecond})

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(3), calls.Load())
}

func TestLoop_RunImmediate(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	loop := New(func(context.Context, uuid.UUID) error {
		if calls.Add(1) == 2 {
			cancel()
		}
		return nil
	}, Options{Policy: PolicyImmediate, Yield: time.Millisecond})

	assert.ErrorIs(t, loop.Run(ctx), context.Canceled)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoop_RunIntervalSkipsOverlap(t *testing.T) {
	var calls, concurrent, maxConcurrent atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	loop := New(func(ctx context.Context, _ uuid.UUID) error {
		calls.Add(1)
		n := concurrent.Add(1)
		if n > maxConcurrent.Load() {
			maxConcurrent.Store(n)
		}
		time.Sleep(30 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	}, Options{Policy: PolicyInterval, Interval: 5 * time.Millisecond})

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), maxConcurrent.Load(), "cycles must never overlap")
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	assert.Equal(t, Idle, loop.State())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("interval")
	require.NoError(t, err)
	assert.Equal(t, PolicyInterval, p)

	_, err = ParsePolicy("cron")
	assert.Error(t, err)
}
