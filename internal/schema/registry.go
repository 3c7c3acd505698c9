// Package schema declares the entity tables known to the replication core.
//
// A Registry is immutable after construction and safe for concurrent use.
package schema

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/dmitrijs2005/gophnotes/internal/common"
)

// Reserved record attributes. They are managed by the engine and cannot be
// used as domain fields or secondary index names.
const (
	FieldID        = "id"
	FieldOwnerID   = "owner_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldDeletedAt = "deleted_at"
)

var reserved = []string{FieldID, FieldOwnerID, FieldCreatedAt, FieldUpdatedAt, FieldDeletedAt}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// IsIdent reports whether name is a valid table or attribute name.
func IsIdent(name string) bool {
	return identRe.MatchString(name)
}

// IsReserved reports whether name is a reserved record attribute.
func IsReserved(name string) bool {
	return slices.Contains(reserved, name)
}

// Table describes one entity type.
type Table struct {
	Name       string
	PrimaryKey string
	OwnerKey   string
	// Indexes lists secondary attributes that are indexed and may be used
	// for ordering queries.
	Indexes    []string
	SoftDelete bool
	// DefaultOrder is the attribute list queries sort by when none is given.
	DefaultOrder string
}

// HasIndex reports whether attr can be used to order or filter efficiently.
// updated_at and created_at are always indexed.
func (t Table) HasIndex(attr string) bool {
	if attr == FieldUpdatedAt || attr == FieldCreatedAt {
		return true
	}
	return slices.Contains(t.Indexes, attr)
}

func (t Table) validate() error {
	if !identRe.MatchString(t.Name) {
		return fmt.Errorf("invalid table name %q", t.Name)
	}
	if t.PrimaryKey != FieldID || t.OwnerKey != FieldOwnerID {
		return fmt.Errorf("table %s: keys must be %s and %s", t.Name, FieldID, FieldOwnerID)
	}
	seen := make(map[string]struct{}, len(t.Indexes))
	for _, idx := range t.Indexes {
		if !identRe.MatchString(idx) {
			return fmt.Errorf("table %s: invalid index %q", t.Name, idx)
		}
		if IsReserved(idx) {
			return fmt.Errorf("table %s: index %q is reserved", t.Name, idx)
		}
		if _, dup := seen[idx]; dup {
			return fmt.Errorf("table %s: duplicate index %q", t.Name, idx)
		}
		seen[idx] = struct{}{}
	}
	if t.DefaultOrder != "" && !t.HasIndex(t.DefaultOrder) {
		return fmt.Errorf("table %s: default order %q is not indexed", t.Name, t.DefaultOrder)
	}
	return nil
}

// Entity builds a soft-deletable table keyed by id and owner_id.
func Entity(name string, indexes ...string) Table {
	return Table{
		Name:         name,
		PrimaryKey:   FieldID,
		OwnerKey:     FieldOwnerID,
		Indexes:      indexes,
		SoftDelete:   true,
		DefaultOrder: FieldUpdatedAt,
	}
}

// Registry is the set of known tables.
type Registry struct {
	tables []Table
	byName map[string]int
}

// NewRegistry validates tables and builds a registry preserving their order.
func NewRegistry(tables ...Table) (*Registry, error) {
	r := &Registry{byName: make(map[string]int, len(tables))}
	for _, t := range tables {
		if err := t.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate table %q", t.Name)
		}
		t.Indexes = slices.Clone(t.Indexes)
		r.byName[t.Name] = len(r.tables)
		r.tables = append(r.tables, t)
	}
	return r, nil
}

// Lookup returns the named table or common.ErrUnknownTable.
func (r *Registry) Lookup(name string) (Table, error) {
	i, ok := r.byName[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", common.ErrUnknownTable, name)
	}
	t := r.tables[i]
	t.Indexes = slices.Clone(t.Indexes)
	return t, nil
}

// Tables returns all tables in declaration order.
func (r *Registry) Tables() []Table {
	out := make([]Table, len(r.tables))
	for i, t := range r.tables {
		t.Indexes = slices.Clone(t.Indexes)
		out[i] = t
	}
	return out
}

// Names returns table names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.tables))
	for i, t := range r.tables {
		out[i] = t.Name
	}
	return out
}
