package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/observability"
	"xrpl-token-sync/internal/storage"
)

// DefaultTokenTable is the table used when none is configured.
const DefaultTokenTable = "tokens"

// TokenStoreOption configures a TokenStore.
type TokenStoreOption func(*TokenStore)

// WithMetrics records operation durations and errors.
func WithMetrics(m *observability.Metrics) TokenStoreOption {
	return func(s *TokenStore) { s.metrics = m }
}

// TokenStore implements storage.TokenStore on a JSONB document table.
type TokenStore struct {
	pool    *Pool
	table   string
	metrics *observability.Metrics

	getSQL     string
	projectSQL string
	upsertSQL  string
	findSQL    string
}

// NewTokenStore creates a token store over table (optionally schema-qualified).
func NewTokenStore(pool *Pool, table string, opts ...TokenStoreOption) (*TokenStore, error) {
	if table == "" {
		table = DefaultTokenTable
	}
	quoted, err := QuoteTable(table)
	if err != nil {
		return nil, err
	}

	s := &TokenStore{pool: pool, table: quoted}
	for _, opt := range opts {
		opt(s)
	}

	// $2 is the projection; an empty array selects the whole document.
	s.getSQL = fmt.Sprintf(`
		SELECT token_key, CASE WHEN cardinality($2::text[]) = 0 THEN doc ELSE
			COALESCE((SELECT jsonb_object_agg(f, doc->f) FROM unnest($2::text[]) AS f WHERE doc ? f), '{}'::jsonb)
		END
		FROM %s
		WHERE token_key = $1
	`, quoted)
	s.projectSQL = s.getSQL

	s.findSQL = fmt.Sprintf(`
		SELECT token_key, CASE WHEN cardinality($3::text[]) = 0 THEN doc ELSE
			COALESCE((SELECT jsonb_object_agg(f, doc->f) FROM unnest($3::text[]) AS f WHERE doc ? f), '{}'::jsonb)
		END
		FROM %s
		WHERE NOT EXISTS (SELECT 1 FROM unnest($1::text[]) AS e WHERE jsonb_typeof(doc->e) IS NULL OR jsonb_typeof(doc->e) = 'null')
		  AND NOT EXISTS (SELECT 1 FROM unnest($2::text[]) AS m WHERE jsonb_typeof(doc->m) IS NOT NULL AND jsonb_typeof(doc->m) <> 'null')
		ORDER BY token_key
		LIMIT $4
	`, quoted)

	// An existing non-null kingOfTheHill survives every merge.
	s.upsertSQL = fmt.Sprintf(`
		INSERT INTO %s AS t (token_key, doc, created_at, updated_at)
		VALUES ($1, $2::jsonb, now(), now())
		ON CONFLICT (token_key) DO UPDATE SET
			doc = CASE
				WHEN jsonb_typeof(t.doc->'kingOfTheHill') IS NOT NULL AND jsonb_typeof(t.doc->'kingOfTheHill') <> 'null'
				THEN t.doc || (EXCLUDED.doc - 'kingOfTheHill')
				ELSE t.doc || EXCLUDED.doc
			END,
			updated_at = now()
	`, quoted)

	return s, nil
}

// GetByKey retrieves one token. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByKey(ctx context.Context, key domain.TokenKey, fields ...string) (tok *domain.Token, err error) {
	defer s.observe("get_by_key", time.Now(), &err)

	var (
		tokenKey string
		raw      []byte
	)
	err = s.pool.QueryRow(ctx, s.getSQL, key.String(), nonNil(fields)).Scan(&tokenKey, &raw)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, &storage.PersistenceError{Op: "get token", Key: key.String(), Err: err}
	}
	return storage.DecodeTokenJSON(key, raw)
}

// FindEligible returns tokens matching filter, ordered by key.
func (s *TokenStore) FindEligible(ctx context.Context, filter storage.Filter, fields ...string) (result []*domain.Token, err error) {
	defer s.observe("find_eligible", time.Now(), &err)

	var limit *int
	if filter.Limit > 0 {
		limit = &filter.Limit
	}

	rows, err := s.pool.Query(ctx, s.findSQL, nonNil(filter.Exists), nonNil(filter.Missing), nonNil(fields), limit)
	if err != nil {
		return nil, &storage.PersistenceError{Op: "find tokens", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tokenKey string
			raw      []byte
		)
		if err := rows.Scan(&tokenKey, &raw); err != nil {
			return nil, &storage.PersistenceError{Op: "scan token", Err: err}
		}
		key, err := domain.ParseTokenKey(tokenKey)
		if err != nil {
			return nil, fmt.Errorf("stored token key %q: %w", tokenKey, err)
		}
		tok, err := storage.DecodeTokenJSON(key, raw)
		if err != nil {
			return nil, err
		}
		result = append(result, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.PersistenceError{Op: "iterate tokens", Err: err}
	}
	return result, nil
}

// Project returns raw JSON for the present requested fields.
func (s *TokenStore) Project(ctx context.Context, key domain.TokenKey, fields []string) (out map[string]json.RawMessage, err error) {
	defer s.observe("project", time.Now(), &err)

	var (
		tokenKey string
		raw      []byte
	)
	err = s.pool.QueryRow(ctx, s.projectSQL, key.String(), nonNil(fields)).Scan(&tokenKey, &raw)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, &storage.PersistenceError{Op: "project token", Key: key.String(), Err: err}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode projection %s: %w", key, err)
	}
	return out, nil
}

// MergeUpsert writes the given fields, creating the document if absent.
func (s *TokenStore) MergeUpsert(ctx context.Context, key domain.TokenKey, fields storage.FieldSet) (err error) {
	defer s.observe("merge_upsert", time.Now(), &err)

	if key.IsZero() {
		return storage.ErrInvalidInput
	}
	update, err := fields.Encode()
	if err != nil {
		return err
	}
	update[domain.FieldIssuer], _ = json.Marshal(key.Issuer)
	update[domain.FieldCurrency], _ = json.Marshal(key.Currency)

	doc, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}

	if _, err := s.pool.Exec(ctx, s.upsertSQL, key.String(), string(doc)); err != nil {
		return &storage.PersistenceError{Op: "merge upsert", Key: key.String(), Err: err}
	}
	return nil
}

func (s *TokenStore) observe(op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
	}
	if errors.Is(err, storage.ErrNotFound) {
		err = nil
	}
	s.metrics.RecordStoreOp("postgres", op, time.Since(start), err)
}

// nonNil avoids sending NULL for an empty text[] parameter.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)
