// Package engine is the mutation pipeline of the replication core.
//
// Every mutation is applied to the local store and appended to the outbox
// in one local transaction before the call returns. The matching remote
// write is then handed to a background dispatcher; its outcome is logged
// and never reaches the caller. The same engine serves every table of the
// schema registry; Collection adds a typed view over one table.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/client/localstore"
	"github.com/dmitrijs2005/gophnotes/internal/client/outbox"
	"github.com/dmitrijs2005/gophnotes/internal/client/session"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
	"github.com/google/uuid"
)

type Engine struct {
	db      dbx.TxBeginner
	store   *localstore.Store
	box     *outbox.Outbox
	remote  remote.Store
	session session.Provider
	log     logging.Logger

	now           func() time.Time
	newID         func() string
	remoteTimeout time.Duration
	workers       int
	queue         int

	// serializes local writes so sequential calls apply in call order
	mu   sync.Mutex
	disp *dispatcher
}

// New returns an engine. store and box must be backed by db.
func New(db *sql.DB, store *localstore.Store, box *outbox.Outbox, rem remote.Store, sess session.Provider, opts ...Option) *Engine {
	e := &Engine{
		db:            db,
		store:         store,
		box:           box,
		remote:        rem,
		session:       sess,
		log:           logging.Nop(),
		now:           time.Now,
		newID:         uuid.NewString,
		remoteTimeout: DefaultRemoteTimeout,
		workers:       DefaultWorkers,
		queue:         DefaultQueue,
	}
	for _, o := range opts {
		o(e)
	}
	e.disp = newDispatcher(e.workers, e.queue, e.remoteTimeout, e.log)
	return e
}

func (e *Engine) Registry() *schema.Registry { return e.store.Registry() }

func (e *Engine) Store() *localstore.Store { return e.store }

func (e *Engine) Outbox() *outbox.Outbox { return e.box }

// Create stores a new record of the current user and queues its insert.
func (e *Engine) Create(ctx context.Context, table string, fields map[string]any) (models.Record, error) {
	if _, err := e.Registry().Lookup(table); err != nil {
		return models.Record{}, err
	}
	owner, err := e.owner()
	if err != nil {
		return models.Record{}, err
	}
	if err := models.CheckFields(fields); err != nil {
		return models.Record{}, err
	}
	fields, err = models.NormalizeFields(fields)
	if err != nil {
		return models.Record{}, err
	}
	maps.DeleteFunc(fields, func(_ string, v any) bool { return v == nil })

	now := models.NormalizeTime(e.now())
	rec := models.Record{
		ID:        e.newID(),
		OwnerID:   owner,
		Fields:    fields,
		CreatedAt: now,
		UpdatedAt: now,
	}

	entry, err := outbox.NewInsert(table, rec)
	if err != nil {
		return models.Record{}, err
	}

	err = e.write(ctx, table, func(ctx context.Context, st *localstore.Store, box *outbox.Outbox) error {
		if err := st.Put(ctx, table, rec); err != nil {
			return err
		}
		_, err := box.Append(ctx, stamp(entry, now))
		return err
	})
	if err != nil {
		return models.Record{}, err
	}

	sent := rec.Clone()
	e.detach(ctx, "upsert", table, rec.ID, func(ctx context.Context) error {
		return e.remote.Upsert(ctx, table, sent)
	})
	return rec, nil
}

// Update merges fields into a record of the current user and queues the
// full merged record. A nil value removes the field.
func (e *Engine) Update(ctx context.Context, table, id string, fields map[string]any) (models.Record, error) {
	if _, err := e.Registry().Lookup(table); err != nil {
		return models.Record{}, err
	}
	owner, err := e.owner()
	if err != nil {
		return models.Record{}, err
	}
	if err := models.CheckFields(fields); err != nil {
		return models.Record{}, err
	}
	fields, err = models.NormalizeFields(fields)
	if err != nil {
		return models.Record{}, err
	}

	var out models.Record
	err = e.write(ctx, table, func(ctx context.Context, st *localstore.Store, box *outbox.Outbox) error {
		cur, err := e.own(ctx, st, table, id, owner)
		if err != nil {
			return err
		}
		at := e.stampAfter(cur.UpdatedAt)
		if out, err = st.Update(ctx, table, id, localstore.Patch{Fields: fields, UpdatedAt: &at}); err != nil {
			return err
		}
		entry, err := outbox.NewUpdate(table, out)
		if err != nil {
			return err
		}
		_, err = box.Append(ctx, stamp(entry, at))
		return err
	})
	if err != nil {
		return models.Record{}, err
	}

	patch := maps.Clone(fields)
	patch[schema.FieldOwnerID] = owner
	patch[schema.FieldUpdatedAt] = out.UpdatedAt
	e.detach(ctx, "patch", table, id, func(ctx context.Context) error {
		return e.remote.Patch(ctx, table, id, patch)
	})
	return out, nil
}

// SoftDelete tombstones a record of the current user.
func (e *Engine) SoftDelete(ctx context.Context, table, id string) (models.Record, error) {
	t, err := e.Registry().Lookup(table)
	if err != nil {
		return models.Record{}, err
	}
	if !t.SoftDelete {
		return models.Record{}, fmt.Errorf("%s: %w", table, common.ErrSoftDeleteUnsupported)
	}
	owner, err := e.owner()
	if err != nil {
		return models.Record{}, err
	}

	var out models.Record
	err = e.write(ctx, table, func(ctx context.Context, st *localstore.Store, box *outbox.Outbox) error {
		cur, err := e.own(ctx, st, table, id, owner)
		if err != nil {
			return err
		}
		at := e.stampAfter(cur.UpdatedAt)
		if out, err = st.Update(ctx, table, id, localstore.Patch{UpdatedAt: &at, DeletedAt: &at}); err != nil {
			return err
		}
		entry, err := outbox.NewDelete(table, out)
		if err != nil {
			return err
		}
		_, err = box.Append(ctx, stamp(entry, at))
		return err
	})
	if err != nil {
		return models.Record{}, err
	}

	patch := map[string]any{
		schema.FieldOwnerID:   owner,
		schema.FieldUpdatedAt: out.UpdatedAt,
		schema.FieldDeletedAt: *out.DeletedAt,
	}
	e.detach(ctx, "delete", table, id, func(ctx context.Context) error {
		return e.remote.Patch(ctx, table, id, patch)
	})
	return out, nil
}

// Restore clears the tombstone of a record of the current user. It is
// queued as an update.
func (e *Engine) Restore(ctx context.Context, table, id string) (models.Record, error) {
	t, err := e.Registry().Lookup(table)
	if err != nil {
		return models.Record{}, err
	}
	if !t.SoftDelete {
		return models.Record{}, fmt.Errorf("%s: %w", table, common.ErrSoftDeleteUnsupported)
	}
	owner, err := e.owner()
	if err != nil {
		return models.Record{}, err
	}

	var out models.Record
	err = e.write(ctx, table, func(ctx context.Context, st *localstore.Store, box *outbox.Outbox) error {
		cur, err := e.own(ctx, st, table, id, owner)
		if err != nil {
			return err
		}
		at := e.stampAfter(cur.UpdatedAt)
		if out, err = st.Update(ctx, table, id, localstore.Patch{UpdatedAt: &at, Restore: true}); err != nil {
			return err
		}
		entry, err := outbox.NewUpdate(table, out)
		if err != nil {
			return err
		}
		_, err = box.Append(ctx, stamp(entry, at))
		return err
	})
	if err != nil {
		return models.Record{}, err
	}

	patch := map[string]any{
		schema.FieldOwnerID:   owner,
		schema.FieldUpdatedAt: out.UpdatedAt,
		schema.FieldDeletedAt: nil,
	}
	e.detach(ctx, "restore", table, id, func(ctx context.Context) error {
		return e.remote.Patch(ctx, table, id, patch)
	})
	return out, nil
}

// Get returns a record of the current user, tombstoned or not.
func (e *Engine) Get(ctx context.Context, table, id string) (models.Record, error) {
	owner, err := e.owner()
	if err != nil {
		return models.Record{}, err
	}
	return e.own(ctx, e.store, table, id, owner)
}

// List queries the current user's records of table.
func (e *Engine) List(ctx context.Context, table string, q localstore.Query) ([]models.Record, error) {
	owner, err := e.owner()
	if err != nil {
		return nil, err
	}
	return e.store.QueryByOwner(ctx, table, owner, q)
}

// Flush waits until every remote write queued so far has finished.
func (e *Engine) Flush(ctx context.Context) error {
	return e.disp.wait(ctx)
}

// Close stops accepting remote writes and waits for queued ones. Local
// mutations keep working and are only queued in the outbox afterwards.
func (e *Engine) Close(ctx context.Context) error {
	return e.disp.close(ctx)
}

func (e *Engine) owner() (string, error) {
	id, ok := e.session.CurrentUserID()
	if !ok {
		return "", common.ErrNoSession
	}
	return id, nil
}

// own loads a record and hides records of other owners.
func (e *Engine) own(ctx context.Context, st *localstore.Store, table, id, owner string) (models.Record, error) {
	rec, err := st.Get(ctx, table, id)
	if err != nil {
		return models.Record{}, err
	}
	if rec.OwnerID != owner {
		return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, common.ErrNotFound)
	}
	return rec, nil
}

// stampAfter returns the current time, never earlier than prev.
func (e *Engine) stampAfter(prev time.Time) time.Time {
	now := models.NormalizeTime(e.now())
	if now.Before(prev) {
		return prev
	}
	return now
}

func (e *Engine) write(ctx context.Context, table string, fn func(ctx context.Context, st *localstore.Store, box *outbox.Outbox) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	err := dbx.WithTx(ctx, e.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, e.store.WithTx(tx), e.box.WithTx(tx))
	})
	if err != nil {
		return err
	}
	e.store.Touch(table)
	return nil
}

func (e *Engine) detach(ctx context.Context, op, table, id string, run func(ctx context.Context) error) {
	if !e.disp.submit(job{ctx: ctx, op: op, table: table, id: id, run: run}) {
		e.log.Warn(ctx, "remote write dropped, left to outbox", "op", op, "table", table, "id", id)
	}
}

func stamp(entry outbox.Entry, at time.Time) outbox.Entry {
	entry.CreatedAt = at
	return entry
}
