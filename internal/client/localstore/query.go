package localstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
)

// Query narrows QueryByOwner.
type Query struct {
	// Where matches domain fields by equality. A nil value matches absent or null fields.
	Where map[string]any
	// Filter, if set, is applied to every row after the SQL query.
	Filter func(models.Record) bool
	// OrderBy is updated_at, created_at or an indexed attribute.
	// Empty means the table's default order.
	OrderBy   string
	Ascending bool
	// IncludeDeleted returns tombstones along with live records.
	IncludeDeleted bool
	// OnlyDeleted returns tombstones only.
	OnlyDeleted bool
	// Limit caps the result; zero means no limit.
	Limit int
}

// QueryByOwner returns records of owner in table. Tombstones are excluded
// unless q asks for them. Without an explicit order the newest update comes first.
func (s *Store) QueryByOwner(ctx context.Context, table, owner string, q Query) ([]models.Record, error) {
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}

	orderExpr, err := orderExpression(t, q.OrderBy)
	if err != nil {
		return nil, err
	}

	var (
		sb   strings.Builder
		args = []any{owner}
	)
	fmt.Fprintf(&sb, `SELECT %s FROM %q WHERE owner_id = ?`, columns, table)

	switch {
	case q.OnlyDeleted:
		sb.WriteString(` AND deleted_at IS NOT NULL`)
	case !q.IncludeDeleted:
		sb.WriteString(` AND deleted_at IS NULL`)
	}

	keys := make([]string, 0, len(q.Where))
	for k := range q.Where {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !schema.IsIdent(k) {
			return nil, fmt.Errorf("invalid attribute %q", k)
		}
		if schema.IsReserved(k) {
			return nil, fmt.Errorf("%w: %s", common.ErrReservedField, k)
		}
		v := q.Where[k]
		if v == nil {
			fmt.Fprintf(&sb, ` AND json_extract(data, '$.%s') IS NULL`, k)
			continue
		}
		sv, err := sqlValue(v)
		if err != nil {
			return nil, fmt.Errorf("where %s: %w", k, err)
		}
		fmt.Fprintf(&sb, ` AND json_extract(data, '$.%s') = ?`, k)
		args = append(args, sv)
	}

	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}
	fmt.Fprintf(&sb, ` ORDER BY %s %s, id %s`, orderExpr, dir, dir)

	if q.Limit > 0 && q.Filter == nil {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w: %w", table, common.ErrLocalStorage, err)
	}
	defer rows.Close()

	result := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w: %w", table, common.ErrLocalStorage, err)
		}
		if q.Filter != nil && !q.Filter(rec) {
			continue
		}
		result = append(result, rec)
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w: %w", table, common.ErrLocalStorage, err)
	}

	return result, nil
}

func orderExpression(t schema.Table, attr string) (string, error) {
	if attr == "" {
		attr = t.DefaultOrder
	}
	switch {
	case attr == "" || attr == schema.FieldUpdatedAt:
		return "updated_at", nil
	case attr == schema.FieldCreatedAt:
		return "created_at", nil
	case t.HasIndex(attr):
		return fmt.Sprintf(`json_extract(data, '$.%s')`, attr), nil
	default:
		return "", fmt.Errorf("order by %s.%s: %w", t.Name, attr, common.ErrUnindexed)
	}
}

// sqlValue maps a scalar JSON value to what json_extract returns for it.
// Objects and arrays cannot be matched by equality.
func sqlValue(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string, float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v, nil
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return x.Float64()
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}
