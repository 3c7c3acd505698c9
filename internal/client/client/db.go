package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/client/localstore"
	"github.com/dmitrijs2005/gophnotes/internal/client/migrations"
	"github.com/dmitrijs2005/gophnotes/internal/client/outbox"
	"github.com/dmitrijs2005/gophnotes/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gophnotes/internal/filex"
	"github.com/dmitrijs2005/gophnotes/internal/schema"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Repositories bundles the local persistence of one client.
type Repositories struct {
	DB       *sql.DB
	Store    *localstore.Store
	Outbox   *outbox.Outbox
	Metadata *metadata.SQLiteRepository
}

func (r *Repositories) Close() error {
	return r.DB.Close()
}

// RunMigrations applies the static local schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	return migrations.Up(ctx, db)
}

// InitDatabase opens the SQLite database at path with a single connection,
// sets pragmas and applies migrations. The parent directory is created when
// missing.
func InitDatabase(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != MemoryDSN {
		abs, err := filex.EnsureParentDir(path)
		if err != nil {
			return nil, err
		}
		dsn = abs
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open local database: %w", err)
	}
	// one writer; in-memory databases also need it to stay on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set %q: %w", p, err)
		}
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// OpenRepositories initializes the database and creates one table per
// registry entry.
func OpenRepositories(ctx context.Context, path string, reg *schema.Registry) (*Repositories, error) {
	db, err := InitDatabase(ctx, path)
	if err != nil {
		return nil, err
	}

	store := localstore.New(db, reg)
	if err := store.EnsureTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Repositories{
		DB:       db,
		Store:    store,
		Outbox:   outbox.New(db),
		Metadata: metadata.NewSQLiteRepository(db),
	}, nil
}
