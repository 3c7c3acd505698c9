package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
)

const columns = `id, owner_id, data, created_at, updated_at, deleted_at`

// Store is the SQLite-backed local store.
type Store struct {
	db   dbx.DBTX
	reg  *schema.Registry
	rev  *revisions
	inTx bool
}

func New(db dbx.DBTX, reg *schema.Registry) *Store {
	return &Store{db: db, reg: reg, rev: newRevisions()}
}

// WithTx returns a store bound to tx. Writes made through it do not advance
// table revisions; call Touch once the transaction has committed.
func (s *Store) WithTx(tx dbx.DBTX) *Store {
	return &Store{db: tx, reg: s.reg, rev: s.rev, inTx: true}
}

func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Revision returns a counter that increases after every committed write to table.
func (s *Store) Revision(table string) uint64 {
	return s.rev.get(table)
}

// Touch advances the revision of the given tables.
func (s *Store) Touch(tables ...string) {
	for _, t := range tables {
		s.rev.bump(t)
	}
}

func (s *Store) touchIfDirect(table string) {
	if !s.inTx {
		s.rev.bump(table)
	}
}

// EnsureTables creates the physical table and indexes of every registry table.
func (s *Store) EnsureTables(ctx context.Context) error {
	for _, t := range s.reg.Tables() {
		for _, stmt := range createStatements(t) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create table %s: %w: %w", t.Name, common.ErrLocalStorage, err)
			}
		}
	}
	return nil
}

func createStatements(t schema.Table) []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
  id         TEXT    PRIMARY KEY,
  owner_id   TEXT    NOT NULL,
  data       TEXT    NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  deleted_at INTEGER NULL
)`, t.Name),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (owner_id, updated_at)`, t.Name+"_owner_updated_idx", t.Name),
	}
	for _, attr := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (owner_id, json_extract(data, '$.%s'))`,
			t.Name+"_"+attr+"_idx", t.Name, attr))
	}
	return stmts
}

func (s *Store) table(name string) (schema.Table, error) {
	return s.reg.Lookup(name)
}

// Get returns the record with the given id, tombstoned or not.
func (s *Store) Get(ctx context.Context, table, id string) (models.Record, error) {
	if _, err := s.table(table); err != nil {
		return models.Record{}, err
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %q WHERE id = ?`, columns, table), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, fmt.Errorf("%s/%s: %w", table, id, common.ErrNotFound)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("failed to get %s/%s: %w: %w", table, id, common.ErrLocalStorage, err)
	}
	return rec, nil
}

// Put inserts rec or replaces the stored record with the same id.
func (s *Store) Put(ctx context.Context, table string, rec models.Record) error {
	if _, err := s.table(table); err != nil {
		return err
	}
	if err := s.put(ctx, table, rec); err != nil {
		return err
	}
	s.touchIfDirect(table)
	return nil
}

func (s *Store) put(ctx context.Context, table string, rec models.Record) error {
	if rec.ID == "" || rec.OwnerID == "" {
		return fmt.Errorf("failed to put %s: record id and owner are required", table)
	}
	if err := models.CheckFields(rec.Fields); err != nil {
		return err
	}
	data, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %q (%s) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at`, table, columns)

	_, err = s.db.ExecContext(ctx, query,
		rec.ID, rec.OwnerID, data,
		encodeTime(rec.CreatedAt), encodeTime(rec.UpdatedAt), encodeNullTime(rec.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w: %w", table, rec.ID, common.ErrLocalStorage, err)
	}
	return nil
}

// Patch is a partial update of a stored record.
type Patch struct {
	// Fields are merged into the record's domain fields; a nil value removes the field.
	Fields map[string]any
	// UpdatedAt replaces updated_at when set.
	UpdatedAt *time.Time
	// DeletedAt tombstones the record when set.
	DeletedAt *time.Time
	// Restore clears deleted_at.
	Restore bool
}

// Update merges p into the record with the given id and returns the result.
func (s *Store) Update(ctx context.Context, table, id string, p Patch) (models.Record, error) {
	if _, err := s.table(table); err != nil {
		return models.Record{}, err
	}
	if err := models.CheckFields(p.Fields); err != nil {
		return models.Record{}, err
	}

	var out models.Record
	err := s.atomically(ctx, func(st *Store) error {
		cur, err := st.Get(ctx, table, id)
		if err != nil {
			return err
		}

		out = apply(cur, p)
		data, err := encodeFields(out.Fields)
		if err != nil {
			return err
		}

		query := fmt.Sprintf(`UPDATE %q SET data = ?, updated_at = ?, deleted_at = ? WHERE id = ?`, table)
		_, err = st.db.ExecContext(ctx, query, data, encodeTime(out.UpdatedAt), encodeNullTime(out.DeletedAt), id)
		if err != nil {
			return fmt.Errorf("failed to update %s/%s: %w: %w", table, id, common.ErrLocalStorage, err)
		}
		return nil
	})
	if err != nil {
		return models.Record{}, err
	}

	s.touchIfDirect(table)
	return out, nil
}

func apply(cur models.Record, p Patch) models.Record {
	out := cur.Clone()
	for k, v := range p.Fields {
		if v == nil {
			delete(out.Fields, k)
			continue
		}
		out.Fields[k] = v
	}
	if p.UpdatedAt != nil {
		out.UpdatedAt = *p.UpdatedAt
	}
	if p.Restore {
		out.DeletedAt = nil
	}
	if p.DeletedAt != nil {
		d := *p.DeletedAt
		out.DeletedAt = &d
	}
	return out
}

// BulkPut writes all records in one transaction, overwriting existing ids.
func (s *Store) BulkPut(ctx context.Context, table string, recs []models.Record) error {
	if _, err := s.table(table); err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	err := s.atomically(ctx, func(st *Store) error {
		for _, rec := range recs {
			if err := st.put(ctx, table, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.touchIfDirect(table)
	return nil
}

// Count returns the number of live records of owner in table.
func (s *Store) Count(ctx context.Context, table, owner string) (int, error) {
	if _, err := s.table(table); err != nil {
		return 0, err
	}

	var n int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q WHERE owner_id = ? AND deleted_at IS NULL`, table)
	if err := s.db.QueryRowContext(ctx, query, owner).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w: %w", table, common.ErrLocalStorage, err)
	}
	return n, nil
}

// Purge physically removes tombstones deleted before cutoff and returns how
// many rows were removed.
func (s *Store) Purge(ctx context.Context, table string, cutoff time.Time) (int64, error) {
	if _, err := s.table(table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf(`DELETE FROM %q WHERE deleted_at IS NOT NULL AND deleted_at < ?`, table)
	res, err := s.db.ExecContext(ctx, query, encodeTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s: %w: %w", table, common.ErrLocalStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		s.touchIfDirect(table)
	}
	return n, nil
}

func (s *Store) atomically(ctx context.Context, fn func(st *Store) error) error {
	if b, ok := s.db.(dbx.TxBeginner); ok && !s.inTx {
		return dbx.WithTx(ctx, b, nil, func(ctx context.Context, tx dbx.DBTX) error {
			return fn(s.WithTx(tx))
		})
	}
	return fn(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.Record, error) {
	var (
		rec       models.Record
		data      string
		created   int64
		updated   int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &data, &created, &updated, &deletedAt); err != nil {
		return models.Record{}, err
	}

	rec.Fields = map[string]any{}
	if err := json.Unmarshal([]byte(data), &rec.Fields); err != nil {
		return models.Record{}, fmt.Errorf("corrupt data of %s: %w", rec.ID, err)
	}
	rec.CreatedAt = decodeTime(created)
	rec.UpdatedAt = decodeTime(updated)
	if deletedAt.Valid {
		d := decodeTime(deletedAt.Int64)
		rec.DeletedAt = &d
	}
	return rec, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		return "{}", nil
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(b), nil
}

func encodeTime(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func encodeNullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

type revisions struct {
	mu sync.Mutex
	m  map[string]uint64
}

func newRevisions() *revisions {
	return &revisions{m: map[string]uint64{}}
}

func (r *revisions) get(table string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[table]
}

func (r *revisions) bump(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[table]++
}
