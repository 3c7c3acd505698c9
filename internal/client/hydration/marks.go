package hydration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
)

// Mark records a completed hydration of one table for one owner.
type Mark struct {
	Table       string
	OwnerID     string
	HydratedAt  time.Time
	RecordCount int
}

// Marks is the repository over the hydration_marks table.
type Marks struct {
	db dbx.DBTX
}

func NewMarks(db dbx.DBTX) *Marks {
	return &Marks{db: db}
}

func (m *Marks) WithTx(tx dbx.DBTX) *Marks {
	return &Marks{db: tx}
}

func (m *Marks) Save(ctx context.Context, mk Mark) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO hydration_marks (table_name, owner_id, hydrated_at, record_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(table_name, owner_id) DO UPDATE SET
			hydrated_at = excluded.hydrated_at,
			record_count = excluded.record_count
	`, mk.Table, mk.OwnerID, mk.HydratedAt.UTC().UnixNano(), mk.RecordCount)
	if err != nil {
		return fmt.Errorf("failed to save hydration mark %s/%s: %w: %w", mk.Table, mk.OwnerID, common.ErrLocalStorage, err)
	}
	return nil
}

// Get returns common.ErrNotFound when table was never hydrated for owner.
func (m *Marks) Get(ctx context.Context, table, owner string) (Mark, error) {
	mk := Mark{Table: table, OwnerID: owner}
	var at int64
	err := m.db.QueryRowContext(ctx, `
		SELECT hydrated_at, record_count FROM hydration_marks
		WHERE table_name = ? AND owner_id = ?
	`, table, owner).Scan(&at, &mk.RecordCount)
	if errors.Is(err, sql.ErrNoRows) {
		return Mark{}, fmt.Errorf("hydration mark %s/%s: %w", table, owner, common.ErrNotFound)
	}
	if err != nil {
		return Mark{}, fmt.Errorf("failed to get hydration mark %s/%s: %w: %w", table, owner, common.ErrLocalStorage, err)
	}
	mk.HydratedAt = time.Unix(0, at).UTC()
	return mk, nil
}

// List returns the marks of owner ordered by table.
func (m *Marks) List(ctx context.Context, owner string) ([]Mark, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT table_name, hydrated_at, record_count FROM hydration_marks
		WHERE owner_id = ? ORDER BY table_name
	`, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list hydration marks: %w: %w", common.ErrLocalStorage, err)
	}
	defer rows.Close()

	var out []Mark
	for rows.Next() {
		mk := Mark{OwnerID: owner}
		var at int64
		if err := rows.Scan(&mk.Table, &at, &mk.RecordCount); err != nil {
			return nil, fmt.Errorf("failed to scan hydration mark: %w", err)
		}
		mk.HydratedAt = time.Unix(0, at).UTC()
		out = append(out, mk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hydration marks: %w", err)
	}
	return out, nil
}
