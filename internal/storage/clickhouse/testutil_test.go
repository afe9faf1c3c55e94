package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"xrpl-token-sync/internal/storage/migrations"
)

const testDatabase = "snapshots_test"

// startClickHouse runs a throwaway server and returns a DSN for testDatabase.
// The database itself is not created.
func startClickHouse(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_SKIP_USER_SETUP": "1"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("9000/tcp"),
				wait.ForLog("Ready for connections"),
			).WithDeadline(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "start clickhouse")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate clickhouse: %v", err)
		}
	})

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "")
	require.NoError(t, err)
	return fmt.Sprintf("clickhouse://%s/%s?dial_timeout=10s", endpoint, testDatabase)
}

// setupTestDB returns a migrated connection to a fresh server.
// Skipped under -short.
func setupTestDB(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	dsn := startClickHouse(t)
	ctx := context.Background()

	require.NoError(t, EnsureDatabase(ctx, dsn))
	conn, err := NewConn(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, migrations.RunClickhouseMigrations(ctx, conn))
	return conn
}
