// Package dbx holds the transaction plumbing shared by the local SQLite
// repositories.
package dbx

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/common"
)

// DBTX is the subset of database/sql the repositories run statements on.
// Both *sql.DB and *sql.Tx satisfy it, so a repository bound with WithTx
// joins the caller's transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxBeginner is implemented by *sql.DB.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx runs fn inside one transaction. It commits when fn returns nil and
// rolls back otherwise, including on panic, which is re-raised.
//
// The error of fn is returned untouched so callers can match their own
// sentinels. Failures to begin or commit are wrapped with
// common.ErrLocalStorage.
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    if err := store.WithTx(tx).Put(ctx, "tasks", rec); err != nil {
//	        return err
//	    }
//	    _, err := box.WithTx(tx).Append(ctx, entry)
//	    return err
//	})
//
// The local database has a single connection, so every statement inside fn
// must go through tx. Using the pool there blocks until the transaction ends.
func WithTx(ctx context.Context, db TxBeginner, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", common.ErrLocalStorage, err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		_ = tx.Rollback()
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		committed = true
		return fmt.Errorf("failed to commit transaction: %w: %w", common.ErrLocalStorage, err)
	}
	committed = true
	return nil
}
