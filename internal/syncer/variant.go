// Package syncer refreshes token records from ledger nodes and data APIs.
//
// A Variant knows which tokens it applies to and how to compute their fresh
// fields. A Runner applies one Variant to the whole eligible set with bounded
// concurrency, isolating failures per token. An Engine runs every Runner once
// per cycle and drives cycles through the scheduler.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/storage"
)

// ErrSkipped is returned by Sync when the token turns out to be ineligible at
// processing time. Skipped tokens are counted separately from failures.
var ErrSkipped = errors.New("token skipped")

// Variant is one kind of synchronization.
type Variant interface {
	// Name labels logs and metrics.
	Name() string

	// Filter selects candidate tokens from the store.
	Filter() storage.Filter

	// Fields is the projection needed by Sync.
	Fields() []string

	// Eligible re-checks a loaded token.
	Eligible(tok *domain.Token) bool

	// Sync fetches fresh data and computes the fields to merge.
	Sync(ctx context.Context, tok *domain.Token, now time.Time) (*Update, error)
}

// Update is the outcome of syncing one token.
type Update struct {
	// Fields are merged into the token record. Only computed fields are set.
	Fields storage.FieldSet

	// Snapshot, when set, is appended to the pool history.
	Snapshot *domain.PoolSnapshot

	// Crowned is set when King of the Hill was newly awarded this cycle.
	Crowned *domain.KingOfTheHill

	// MarketCap is the market cap used for the crown decision.
	MarketCap decimal.Decimal
}
