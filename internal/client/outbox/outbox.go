// Package outbox is the durable, ordered log of local mutations awaiting
// delivery to the remote store.
//
// Entries are appended by the mutation engine in the same local transaction
// as the record write and are removed only by the drain worker, which reads
// them with PeekBatch and acknowledges each with Remove. The core never
// reorders or coalesces entries.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// DefaultBatch is used by PeekBatch when max is not positive.
const DefaultBatch = 100

// Entry is one pending operation. Payload holds the full record for inserts
// and updates, and a DeletePayload for deletes.
type Entry struct {
	Seq       int64
	Table     string
	Action    Action
	RecordID  string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// DeletePayload is the payload of an ActionDelete entry.
type DeletePayload struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	DeletedAt time.Time `json:"deleted_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewInsert builds an insert entry carrying the full record.
func NewInsert(table string, rec models.Record) (Entry, error) {
	return snapshot(table, ActionInsert, rec)
}

// NewUpdate builds an update entry carrying the full post-update record.
func NewUpdate(table string, rec models.Record) (Entry, error) {
	return snapshot(table, ActionUpdate, rec)
}

// NewDelete builds a delete entry for a tombstoned record.
func NewDelete(table string, rec models.Record) (Entry, error) {
	if rec.DeletedAt == nil {
		return Entry{}, fmt.Errorf("record %s is not deleted", rec.ID)
	}
	b, err := json.Marshal(DeletePayload{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		DeletedAt: *rec.DeletedAt,
		UpdatedAt: rec.UpdatedAt,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode delete payload: %w", err)
	}
	return Entry{Table: table, Action: ActionDelete, RecordID: rec.ID, Payload: b}, nil
}

func snapshot(table string, action Action, rec models.Record) (Entry, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to encode %s payload: %w", action, err)
	}
	return Entry{Table: table, Action: action, RecordID: rec.ID, Payload: b}, nil
}

// Record decodes the payload of an insert or update entry.
func (e Entry) Record() (models.Record, error) {
	var rec models.Record
	if e.Action == ActionDelete {
		return rec, fmt.Errorf("entry %d is a delete", e.Seq)
	}
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode entry %d: %w", e.Seq, err)
	}
	return rec, nil
}

// Delete decodes the payload of a delete entry.
func (e Entry) Delete() (DeletePayload, error) {
	var p DeletePayload
	if e.Action != ActionDelete {
		return p, fmt.Errorf("entry %d is not a delete", e.Seq)
	}
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return p, fmt.Errorf("failed to decode entry %d: %w", e.Seq, err)
	}
	return p, nil
}

// Outbox is the SQLite-backed queue.
type Outbox struct {
	db  dbx.DBTX
	now func() time.Time
}

func New(db dbx.DBTX) *Outbox {
	return &Outbox{db: db, now: time.Now}
}

// WithTx returns an outbox bound to tx.
func (o *Outbox) WithTx(tx dbx.DBTX) *Outbox {
	return &Outbox{db: tx, now: o.now}
}

// Append stores e at the tail and returns its sequence number.
func (o *Outbox) Append(ctx context.Context, e Entry) (int64, error) {
	switch e.Action {
	case ActionInsert, ActionUpdate, ActionDelete:
	default:
		return 0, fmt.Errorf("unknown outbox action %q", e.Action)
	}
	if e.Table == "" || e.RecordID == "" || len(e.Payload) == 0 {
		return 0, fmt.Errorf("incomplete outbox entry for %s/%s", e.Table, e.RecordID)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = o.now()
	}

	res, err := o.db.ExecContext(ctx, `
		INSERT INTO outbox (table_name, action, record_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, e.Table, string(e.Action), e.RecordID, string(e.Payload), e.CreatedAt.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to append outbox entry: %w: %w", common.ErrLocalStorage, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get outbox sequence: %w: %w", common.ErrLocalStorage, err)
	}
	return seq, nil
}

// PeekBatch returns up to max entries from the head in sequence order
// without removing them.
func (o *Outbox) PeekBatch(ctx context.Context, max int) ([]Entry, error) {
	if max <= 0 {
		max = DefaultBatch
	}
	return o.query(ctx, `
		SELECT seq, table_name, action, record_id, payload, created_at
		FROM outbox ORDER BY seq ASC LIMIT ?
	`, max)
}

// PendingFor returns the entries of one record in sequence order.
func (o *Outbox) PendingFor(ctx context.Context, table, id string) ([]Entry, error) {
	return o.query(ctx, `
		SELECT seq, table_name, action, record_id, payload, created_at
		FROM outbox WHERE table_name = ? AND record_id = ? ORDER BY seq ASC
	`, table, id)
}

func (o *Outbox) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := o.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w: %w", common.ErrLocalStorage, err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			action  string
			payload string
			created int64
		)
		if err := rows.Scan(&e.Seq, &e.Table, &action, &e.RecordID, &payload, &created); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w: %w", common.ErrLocalStorage, err)
		}
		e.Action = Action(action)
		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outbox rows: %w: %w", common.ErrLocalStorage, err)
	}
	return entries, nil
}

// Remove deletes the entry with the given sequence number.
func (o *Outbox) Remove(ctx context.Context, seq int64) error {
	res, err := o.db.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("failed to remove outbox entry %d: %w: %w", seq, common.ErrLocalStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("outbox entry %d: %w", seq, common.ErrNotFound)
	}
	return nil
}

// Len returns the number of pending entries.
func (o *Outbox) Len(ctx context.Context) (int, error) {
	var n int
	if err := o.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w: %w", common.ErrLocalStorage, err)
	}
	return n, nil
}
