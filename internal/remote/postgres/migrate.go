package postgres

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophnotes/internal/remote/postgres/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

var gooseUpContext = goose.UpContext

// RunMigrations applies the embedded remote schema to db, which must be
// opened with the "pgx" driver.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}

	return gooseUpContext(ctx, db, ".")
}

// OpenSQL opens dsn through the pgx database/sql driver.
func OpenSQL(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}
