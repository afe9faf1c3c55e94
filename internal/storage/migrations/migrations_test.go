package migrations

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPG struct {
	stmts []string
}

func (r *recordingPG) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	return pgconn.CommandTag{}, nil
}

type recordingCH struct {
	stmts []string
}

func (r *recordingCH) Exec(_ context.Context, query string, _ ...any) error {
	r.stmts = append(r.stmts, query)
	return nil
}

func TestSplitStatements(t *testing.T) {
	input := `
-- header comment
CREATE TABLE a (x UInt8);

  -- indented comment
CREATE TABLE b (
    y String
);
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x UInt8)", stmts[0])
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b ("))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings("SELECT 'a''b'; SELECT 1;"))
	assert.Error(t, validateNoSemicolonInStrings("SELECT 'a;b';"))
}

func TestRunPostgresMigrations_RendersTableName(t *testing.T) {
	db := &recordingPG{}
	err := RunPostgresMigrations(context.Background(), db, Params{TokenTable: "market.tokens"})
	require.NoError(t, err)
	require.NotEmpty(t, db.stmts)

	sql := db.stmts[0]
	assert.Contains(t, sql, `CREATE TABLE IF NOT EXISTS "market"."tokens"`)
	assert.Contains(t, sql, `"tokens_pool_address_idx"`)
	assert.NotContains(t, sql, "{{")
}

func TestRunPostgresMigrations_DefaultTable(t *testing.T) {
	db := &recordingPG{}
	require.NoError(t, RunPostgresMigrations(context.Background(), db, Params{}))
	assert.Contains(t, db.stmts[0], `"tokens"`)
}

func TestRunPostgresMigrations_InvalidTable(t *testing.T) {
	db := &recordingPG{}
	err := RunPostgresMigrations(context.Background(), db, Params{TokenTable: "market."})
	assert.Error(t, err)
	assert.Empty(t, db.stmts)
}

func TestRunClickhouseMigrations(t *testing.T) {
	conn := &recordingCH{}
	require.NoError(t, RunClickhouseMigrations(context.Background(), conn))
	require.Len(t, conn.stmts, 1)
	assert.Contains(t, conn.stmts[0], "CREATE TABLE IF NOT EXISTS pool_snapshots")
	assert.NotContains(t, conn.stmts[0], ";")
}
