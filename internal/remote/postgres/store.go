package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
	"github.com/jackc/pgx/v5/pgconn"
)

type Store struct {
	pool PgxPool
	reg  *schema.Registry
}

var (
	_ remote.Store  = (*Store)(nil)
	_ remote.Pinger = (*Store)(nil)
)

func NewStore(pool PgxPool, reg *schema.Registry) *Store {
	return &Store{pool: pool, reg: reg}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.pool.Ping(ctx))
}

func (s *Store) Read(ctx context.Context, table, owner string) ([]models.Record, error) {
	if _, err := s.reg.Lookup(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, owner_id, data, created_at, updated_at
		FROM %q WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC, id`, table)

	rows, err := s.pool.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table, mapError(err))
	}
	defer rows.Close()

	out := []models.Record{}
	for rows.Next() {
		var (
			rec  models.Record
			data []byte
		)
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &data, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, mapError(err))
		}
		rec.Fields = map[string]any{}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &rec.Fields); err != nil {
				return nil, fmt.Errorf("corrupt data of %s/%s: %w", table, rec.ID, err)
			}
		}
		rec.CreatedAt = models.NormalizeTime(rec.CreatedAt)
		rec.UpdatedAt = models.NormalizeTime(rec.UpdatedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", table, mapError(err))
	}
	return out, nil
}

// Upsert inserts rec or replaces the row with the same id when it belongs to
// the same owner and is not newer than rec.
func (s *Store) Upsert(ctx context.Context, table string, rec models.Record) error {
	if _, err := s.reg.Lookup(table); err != nil {
		return err
	}
	data, err := json.Marshal(nonNil(rec.Fields))
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", table, rec.ID, err)
	}

	query := fmt.Sprintf(`INSERT INTO %[1]q (id, owner_id, data, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
		WHERE %[1]q.owner_id = EXCLUDED.owner_id
		  AND %[1]q.updated_at <= EXCLUDED.updated_at`, table)

	tag, err := s.pool.Exec(ctx, query, rec.ID, rec.OwnerID, string(data), rec.CreatedAt, rec.UpdatedAt, rec.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", table, rec.ID, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upsert %s/%s: %w", table, rec.ID, common.ErrVersionConflict)
	}
	return nil
}

// Patch merges fields into an existing row. It reports
// common.ErrVersionConflict when the row is missing, newer than the patch or,
// for a patch carrying owner_id, owned by someone else.
func (s *Store) Patch(ctx context.Context, table, id string, fields map[string]any) error {
	if _, err := s.reg.Lookup(table); err != nil {
		return err
	}
	spec, err := remote.ParsePatch(fields)
	if err != nil {
		return err
	}
	set, err := json.Marshal(spec.Set)
	if err != nil {
		return fmt.Errorf("failed to encode patch of %s/%s: %w", table, id, err)
	}
	unset := spec.Unset
	if unset == nil {
		unset = []string{}
	}

	query := fmt.Sprintf(`UPDATE %q SET
			data = (data || $2::jsonb) - $3::text[],
			updated_at = $4,
			deleted_at = CASE WHEN $5::boolean THEN $6::timestamptz ELSE deleted_at END
		WHERE id = $1 AND updated_at <= $4 AND ($7 = '' OR owner_id = $7)`, table)

	tag, err := s.pool.Exec(ctx, query, id, string(set), unset, spec.UpdatedAt, spec.HasDeletedAt, spec.DeletedAt, spec.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to patch %s/%s: %w", table, id, mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patch %s/%s: %w", table, id, common.ErrVersionConflict)
	}
	return nil
}

// mapError classifies err. Errors reported by the server keep their
// identity; anything else means the server could not be reached.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return remote.Unavailable(err)
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
