package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"xrpl-token-sync/internal/storage/migrations"
)

const testTable = "tokens"

// setupTestDB starts Postgres, applies the token table migration and returns
// a pool. Everything is torn down through t.Cleanup. Skipped under -short.
func setupTestDB(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("tokens_test"),
		tcpostgres.WithUsername("sync"),
		tcpostgres.WithPassword("sync"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "start postgres")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn, WithMaxConns(4))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, migrations.RunPostgresMigrations(ctx, pool, migrations.Params{TokenTable: testTable}))
	return pool
}
