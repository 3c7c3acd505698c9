// Package remotetest provides an in-memory remote.Store for tests, with the
// same idempotence and ordering guarantees as the real backends.
package remotetest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
)

// Call records one invocation.
type Call struct {
	Op    string
	Table string
	ID    string
}

type Store struct {
	mu       sync.Mutex
	tables   map[string]map[string]models.Record
	calls    []Call
	readErr  error
	writeErr error
	onRead   func(ctx context.Context, table, owner string)
}

var (
	_ remote.Store  = (*Store)(nil)
	_ remote.Pinger = (*Store)(nil)
)

func New() *Store {
	return &Store{tables: map[string]map[string]models.Record{}}
}

// Seed stores records as is.
func (s *Store) Seed(table string, recs ...models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.tableLocked(table)[r.ID] = r.Clone()
	}
}

// FailReads makes every Read return err; nil restores normal behavior.
func (s *Store) FailReads(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}

// FailWrites makes every Upsert and Patch return err.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// OnRead installs a hook run at the start of every Read, outside the lock.
func (s *Store) OnRead(fn func(ctx context.Context, table, owner string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRead = fn
}

// Get returns a stored record, tombstoned or not.
func (s *Store) Get(table, id string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.tables[table][id]
	return r.Clone(), ok
}

// Records returns every stored record of table sorted by id.
func (s *Store) Records(table string) []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b models.Record) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Calls returns the invocations so far.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *Store) Read(ctx context.Context, table, owner string) ([]models.Record, error) {
	s.mu.Lock()
	hook := s.onRead
	s.calls = append(s.calls, Call{Op: "read", Table: table})
	s.mu.Unlock()

	if hook != nil {
		hook(ctx, table, owner)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	if err := ctx.Err(); err != nil {
		return nil, remote.Unavailable(err)
	}

	out := []models.Record{}
	for _, r := range s.tables[table] {
		if r.OwnerID == owner && r.Live() {
			out = append(out, r.Clone())
		}
	}
	slices.SortFunc(out, func(a, b models.Record) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Store) Upsert(ctx context.Context, table string, rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "upsert", Table: table, ID: rec.ID})
	if s.writeErr != nil {
		return s.writeErr
	}

	cur, ok := s.tableLocked(table)[rec.ID]
	if ok && (cur.OwnerID != rec.OwnerID || cur.UpdatedAt.After(rec.UpdatedAt)) {
		return fmt.Errorf("upsert %s/%s: %w", table, rec.ID, common.ErrVersionConflict)
	}
	s.tables[table][rec.ID] = rec.Clone()
	return nil
}

func (s *Store) Patch(ctx context.Context, table, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: "patch", Table: table, ID: id})
	if s.writeErr != nil {
		return s.writeErr
	}

	spec, err := remote.ParsePatch(fields)
	if err != nil {
		return err
	}
	cur, ok := s.tableLocked(table)[id]
	if !ok || !spec.Matches(cur.OwnerID) || cur.UpdatedAt.After(spec.UpdatedAt) {
		return fmt.Errorf("patch %s/%s: %w", table, id, common.ErrVersionConflict)
	}
	s.tables[table][id] = spec.Apply(cur)
	return nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readErr
}

func (s *Store) tableLocked(table string) map[string]models.Record {
	t, ok := s.tables[table]
	if !ok {
		t = map[string]models.Record{}
		s.tables[table] = t
	}
	return t
}
