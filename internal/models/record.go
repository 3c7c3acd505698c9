// Package models holds the entity record shared by the local store, the
// outbox, the remote backends and the typed domain structs.
package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
)

// Record is one row of an entity table. Domain attributes live in Fields;
// reserved attributes are struct fields and never appear in Fields.
type Record struct {
	ID        string
	OwnerID   string
	Fields    map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Live reports whether the record is not a tombstone.
func (r Record) Live() bool {
	return r.DeletedAt == nil
}

// Clone returns a copy that shares no maps or pointers with r.
// Nested values inside Fields are shared.
func (r Record) Clone() Record {
	c := r
	c.Fields = maps.Clone(r.Fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	if r.DeletedAt != nil {
		d := *r.DeletedAt
		c.DeletedAt = &d
	}
	return c
}

// Field returns a domain field.
func (r Record) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// String returns a domain field as a string, or "" if it is absent or not a string.
func (r Record) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// MarshalJSON writes the flat wire form
// {id, owner_id, ...fields, created_at, updated_at, deleted_at}.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+5)
	maps.Copy(m, r.Fields)
	m[schema.FieldID] = r.ID
	m[schema.FieldOwnerID] = r.OwnerID
	m[schema.FieldCreatedAt] = r.CreatedAt
	m[schema.FieldUpdatedAt] = r.UpdatedAt
	m[schema.FieldDeletedAt] = r.DeletedAt
	return json.Marshal(m)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var out Record
	if err := decodeKey(raw, schema.FieldID, &out.ID); err != nil {
		return err
	}
	if err := decodeKey(raw, schema.FieldOwnerID, &out.OwnerID); err != nil {
		return err
	}
	if err := decodeKey(raw, schema.FieldCreatedAt, &out.CreatedAt); err != nil {
		return err
	}
	if err := decodeKey(raw, schema.FieldUpdatedAt, &out.UpdatedAt); err != nil {
		return err
	}
	if err := decodeKey(raw, schema.FieldDeletedAt, &out.DeletedAt); err != nil {
		return err
	}

	out.Fields = make(map[string]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		out.Fields[k] = val
	}

	*r = out
	return nil
}

func decodeKey(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	delete(raw, key)
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("field %s: %w", key, err)
	}
	return nil
}

// CheckFields returns common.ErrReservedField if fields names a reserved attribute.
func CheckFields(fields map[string]any) error {
	for k := range fields {
		if schema.IsReserved(k) {
			return fmt.Errorf("%w: %s", common.ErrReservedField, k)
		}
	}
	return nil
}

// NormalizeFields round-trips fields through JSON so callers observe the
// same value types the store returns (numbers become float64, structs
// become maps). A nil map yields an empty one.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	if len(fields) == 0 {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fields: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return out, nil
}

// NormalizeTime drops the monotonic clock reading and sub-microsecond
// precision so timestamps compare equal after a trip through any backend.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
