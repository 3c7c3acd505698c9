// Package projection provides read models over the local store that are
// recomputed only when the underlying table changed.
package projection

import (
	"context"
	"slices"
	"sync"

	"github.com/dmitrijs2005/gophnotes/internal/client/localstore"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// View is a memoized query of one owner's records in one table. It is safe
// for concurrent use.
type View struct {
	store *localstore.Store
	table string
	owner string
	query localstore.Query

	mu    sync.Mutex
	valid bool
	rev   uint64
	rows  []models.Record
}

func New(store *localstore.Store, table, owner string, q localstore.Query) *View {
	return &View{store: store, table: table, owner: owner, query: q}
}

// Active lists live records, most recently updated first.
func Active(store *localstore.Store, table, owner string) *View {
	return New(store, table, owner, localstore.Query{})
}

// ByStatus lists live records whose status field equals status.
func ByStatus(store *localstore.Store, table, owner, status string) *View {
	return New(store, table, owner, localstore.Query{Where: map[string]any{"status": status}})
}

// Trash lists tombstones, most recently deleted first.
func Trash(store *localstore.Store, table, owner string) *View {
	return New(store, table, owner, localstore.Query{OnlyDeleted: true})
}

func (v *View) Table() string { return v.table }

// Rows returns the current result. The store is queried only when the
// table revision moved since the previous call. Records share their Fields
// maps with the cache and must not be modified.
func (v *View) Rows(ctx context.Context) ([]models.Record, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	// read the revision first so a concurrent write forces a later refresh
	rev := v.store.Revision(v.table)
	if v.valid && rev == v.rev {
		return slices.Clone(v.rows), nil
	}

	rows, err := v.store.QueryByOwner(ctx, v.table, v.owner, v.query)
	if err != nil {
		return nil, err
	}
	v.rows, v.rev, v.valid = rows, rev, true
	return slices.Clone(rows), nil
}

// Invalidate drops the cached result.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.valid = false
	v.rows = nil
	v.mu.Unlock()
}
