package engine

import (
	"context"

	"github.com/dmitrijs2005/gophnotes/internal/client/localstore"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

// Collection is a typed view of one table. T must be a struct type, not a
// pointer.
type Collection[T models.Entity] struct {
	e     *Engine
	table string
}

func NewCollection[T models.Entity](e *Engine) *Collection[T] {
	var zero T
	return &Collection[T]{e: e, table: zero.TableName()}
}

func (c *Collection[T]) Table() string { return c.table }

// Create stores v as a new record. Reserved attributes of v are ignored.
func (c *Collection[T]) Create(ctx context.Context, v T) (T, error) {
	fields, err := models.FieldsOf(v)
	if err != nil {
		var zero T
		return zero, err
	}
	return decode[T](c.e.Create(ctx, c.table, fields))
}

func (c *Collection[T]) Update(ctx context.Context, id string, patch map[string]any) (T, error) {
	return decode[T](c.e.Update(ctx, c.table, id, patch))
}

func (c *Collection[T]) SoftDelete(ctx context.Context, id string) (T, error) {
	return decode[T](c.e.SoftDelete(ctx, c.table, id))
}

func (c *Collection[T]) Restore(ctx context.Context, id string) (T, error) {
	return decode[T](c.e.Restore(ctx, c.table, id))
}

func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	return decode[T](c.e.Get(ctx, c.table, id))
}

func (c *Collection[T]) List(ctx context.Context, q localstore.Query) ([]T, error) {
	recs, err := c.e.List(ctx, c.table, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := models.Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func decode[T models.Entity](rec models.Record, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	return models.Decode[T](rec)
}
