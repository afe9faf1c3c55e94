package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"xrpl-token-sync/internal/domain"
	"xrpl-token-sync/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	docs map[domain.TokenKey]map[string]json.RawMessage
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		docs: make(map[domain.TokenKey]map[string]json.RawMessage),
	}
}

// GetByKey retrieves one token. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByKey(_ context.Context, key domain.TokenKey, fields ...string) (*domain.Token, error) {
	s.mu.RLock()
	doc, exists := s.docs[key]
	var projected map[string]json.RawMessage
	if exists {
		projected = storage.ProjectDocument(doc, fields)
	}
	s.mu.RUnlock()

	if !exists {
		return nil, storage.ErrNotFound
	}
	return storage.DecodeToken(key, projected)
}

// FindEligible returns tokens matching filter, ordered by key.
func (s *TokenStore) FindEligible(_ context.Context, filter storage.Filter, fields ...string) ([]*domain.Token, error) {
	s.mu.RLock()
	keys := make([]domain.TokenKey, 0, len(s.docs))
	for k, doc := range s.docs {
		if filter.Matches(doc) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	if filter.Limit > 0 && len(keys) > filter.Limit {
		keys = keys[:filter.Limit]
	}
	projected := make([]map[string]json.RawMessage, len(keys))
	for i, k := range keys {
		projected[i] = storage.ProjectDocument(s.docs[k], fields)
	}
	s.mu.RUnlock()

	result := make([]*domain.Token, 0, len(keys))
	for i, k := range keys {
		t, err := storage.DecodeToken(k, projected[i])
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

// Project returns raw JSON for the present requested fields.
func (s *TokenStore) Project(_ context.Context, key domain.TokenKey, fields []string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, exists := s.docs[key]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return storage.ProjectDocument(doc, fields), nil
}

// MergeUpsert writes the given fields, creating the document if absent.
func (s *TokenStore) MergeUpsert(_ context.Context, key domain.TokenKey, fields storage.FieldSet) error {
	if key.IsZero() {
		return storage.ErrInvalidInput
	}
	update, err := fields.Encode()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, exists := s.docs[key]
	if !exists {
		doc = make(map[string]json.RawMessage, len(update)+2)
		s.docs[key] = doc
		doc[domain.FieldIssuer], _ = json.Marshal(key.Issuer)
		doc[domain.FieldCurrency], _ = json.Marshal(key.Currency)
	}
	storage.MergeDocument(doc, update)
	return nil
}

// Len returns the number of stored tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

var _ storage.TokenStore = (*TokenStore)(nil)
