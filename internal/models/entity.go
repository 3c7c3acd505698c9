package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/schema"
)

// Entity is a typed view of a record of one table.
type Entity interface {
	TableName() string
}

// Meta carries the reserved attributes of a typed entity. Embed it to get
// them flattened into the JSON form.
type Meta struct {
	ID        string     `json:"id,omitempty"`
	OwnerID   string     `json:"owner_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// FieldsOf converts a typed entity into domain fields, dropping reserved
// attributes.
func FieldsOf[T Entity](v T) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", v.TableName(), err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", v.TableName(), err)
	}
	for _, k := range []string{schema.FieldID, schema.FieldOwnerID, schema.FieldCreatedAt, schema.FieldUpdatedAt, schema.FieldDeletedAt} {
		delete(fields, k)
	}
	return fields, nil
}

// Decode converts a record into a typed entity.
func Decode[T Entity](r Record) (T, error) {
	var v T
	b, err := json.Marshal(r)
	if err != nil {
		return v, fmt.Errorf("failed to encode record %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("failed to decode record %s into %s: %w", r.ID, v.TableName(), err)
	}
	return v, nil
}
