// Package migrations applies the embedded Postgres and ClickHouse schema.
package migrations

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"text/template"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

//go:embed postgres/*.sql
var postgresFS embed.FS

// DefaultTokenTable is used when Params.TokenTable is empty.
const DefaultTokenTable = "tokens"

// PostgresExecer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type PostgresExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Params configures templated names inside the Postgres migrations.
type Params struct {
	// TokenTable is the token document table, optionally schema-qualified.
	TokenTable string
}

type renderParams struct {
	TokenTable string
	PoolIndex  string
	DocIndex   string
}

func (p Params) render() (renderParams, error) {
	table := p.TokenTable
	if table == "" {
		table = DefaultTokenTable
	}
	parts := strings.Split(table, ".")
	for _, part := range parts {
		if part == "" {
			return renderParams{}, fmt.Errorf("invalid token table %q", table)
		}
	}
	base := parts[len(parts)-1]
	return renderParams{
		TokenTable: pgx.Identifier(parts).Sanitize(),
		PoolIndex:  pgx.Identifier{base + "_pool_address_idx"}.Sanitize(),
		DocIndex:   pgx.Identifier{base + "_doc_gin_idx"}.Sanitize(),
	}, nil
}

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are expected to be idempotent.
func RunPostgresMigrations(ctx context.Context, db PostgresExecer, params Params) error {
	rp, err := params.render()
	if err != nil {
		return err
	}

	files, err := sqlFiles(postgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	for _, file := range files {
		data, err := fs.ReadFile(postgresFS, "postgres/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		sql, err := renderSQL(file, string(data), rp)
		if err != nil {
			return err
		}
		if strings.TrimSpace(sql) == "" {
			continue
		}
		if _, err := db.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}

	return nil
}

func renderSQL(name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse migration %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render migration %s: %w", name, err)
	}
	return buf.String(), nil
}

func sqlFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
