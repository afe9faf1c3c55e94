package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"xrpl-token-sync/internal/domain"
)

// FieldSet is a partial token document: field name to value. Values must be
// JSON-marshalable; decimals marshal as quoted strings.
type FieldSet map[string]any

// Keys returns the field names in sorted order.
func (fs FieldSet) Keys() []string {
	keys := make([]string, 0, len(fs))
	for k := range fs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode marshals every value, failing with ErrInvalidInput on an empty set,
// an empty field name or an unmarshalable value.
func (fs FieldSet) Encode() (map[string]json.RawMessage, error) {
	if len(fs) == 0 {
		return nil, fmt.Errorf("%w: empty field set", ErrInvalidInput)
	}
	out := make(map[string]json.RawMessage, len(fs))
	for k, v := range fs {
		if k == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidInput)
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %v", ErrInvalidInput, k, err)
		}
		out[k] = raw
	}
	return out, nil
}

// Filter selects tokens by field presence. A field is present when it exists
// in the document and is not JSON null.
type Filter struct {
	Exists  []string
	Missing []string
	Limit   int // 0 = no limit
}

// Matches evaluates the filter against a decoded document.
func (f Filter) Matches(doc map[string]json.RawMessage) bool {
	for _, k := range f.Exists {
		if !Present(doc, k) {
			return false
		}
	}
	for _, k := range f.Missing {
		if Present(doc, k) {
			return false
		}
	}
	return true
}

var jsonNull = []byte("null")

// Present reports whether field k is set to a non-null value.
func Present(doc map[string]json.RawMessage, k string) bool {
	v, ok := doc[k]
	return ok && len(v) > 0 && !bytes.Equal(bytes.TrimSpace(v), jsonNull)
}

// MergeDocument applies update to doc in place following merge-upsert rules:
// fields overwrite, and an existing kingOfTheHill is kept.
func MergeDocument(doc, update map[string]json.RawMessage) {
	for k, v := range update {
		if k == domain.FieldKingOfTheHill && Present(doc, k) {
			continue
		}
		doc[k] = v
	}
}

// ProjectDocument returns the subset of doc named by fields. No fields means
// a copy of the whole document.
func ProjectDocument(doc map[string]json.RawMessage, fields []string) map[string]json.RawMessage {
	if len(fields) == 0 {
		out := make(map[string]json.RawMessage, len(doc))
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	out := make(map[string]json.RawMessage, len(fields))
	for _, k := range fields {
		if v, ok := doc[k]; ok {
			out[k] = v
		}
	}
	return out
}

// DecodeToken builds a Token from a (possibly projected) document.
func DecodeToken(key domain.TokenKey, doc map[string]json.RawMessage) (*domain.Token, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return DecodeTokenJSON(key, raw)
}

// DecodeTokenJSON builds a Token from a JSON document.
func DecodeTokenJSON(key domain.TokenKey, raw []byte) (*domain.Token, error) {
	var t domain.Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", key, err)
	}
	t.Key = key
	if t.Issuer == "" {
		t.Issuer = key.Issuer
	}
	if t.Currency == "" {
		t.Currency = key.Currency
	}
	return &t, nil
}
