package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/client/client"
	"github.com/dmitrijs2005/gophnotes/internal/client/localstore"
	"github.com/dmitrijs2005/gophnotes/internal/client/projection"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func setup(t *testing.T) *client.Repositories {
	t.Helper()
	repos, err := client.OpenRepositories(context.Background(), client.MemoryDSN, schema.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })
	return repos
}

func task(id, status string, updated time.Time) models.Record {
	return models.Record{
		ID: id, OwnerID: "u1",
		Fields:    map[string]any{"title": "task " + id, "status": status},
		CreatedAt: t0, UpdatedAt: updated,
	}
}

func ids(recs []models.Record) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestStandardViews(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	st := repos.Store

	require.NoError(t, st.Put(ctx, schema.Tasks, task("a", "todo", t0)))
	require.NoError(t, st.Put(ctx, schema.Tasks, task("b", "done", t0.Add(time.Minute))))
	require.NoError(t, st.Put(ctx, schema.Tasks, task("c", "todo", t0.Add(2*time.Minute))))
	del := t0.Add(3 * time.Minute)
	_, err := st.Update(ctx, schema.Tasks, "b", localstore.Patch{UpdatedAt: &del, DeletedAt: &del})
	require.NoError(t, err)

	active, err := projection.Active(st, schema.Tasks, "u1").Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(active))

	todo, err := projection.ByStatus(st, schema.Tasks, "u1", "todo").Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, ids(todo))

	done, err := projection.ByStatus(st, schema.Tasks, "u1", "done").Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, done, "tombstones never show up in default views")

	trash, err := projection.Trash(st, schema.Tasks, "u1").Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids(trash))

	other, err := projection.Active(st, schema.Tasks, "u2").Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestView_RefreshesOnRevision(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	st := repos.Store
	v := projection.Active(st, schema.Tasks, "u1")

	rows, err := v.Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, st.Put(ctx, schema.Tasks, task("a", "todo", t0)))
	rows, err = v.Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(rows))
}

func TestView_MemoizedUntilTouched(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	st := repos.Store
	v := projection.Active(st, schema.Tasks, "u1")

	_, err := v.Rows(ctx)
	require.NoError(t, err)

	// transactional writes advance the revision only on Touch
	err = dbx.WithTx(ctx, repos.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return st.WithTx(tx).Put(ctx, schema.Tasks, task("a", "todo", t0))
	})
	require.NoError(t, err)

	rows, err := v.Rows(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	st.Touch(schema.Tasks)
	rows, err = v.Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(rows))
}

func TestView_Invalidate(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	st := repos.Store
	v := projection.Active(st, schema.Tasks, "u1")
	assert.Equal(t, schema.Tasks, v.Table())

	_, err := v.Rows(ctx)
	require.NoError(t, err)

	err = dbx.WithTx(ctx, repos.DB, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return st.WithTx(tx).Put(ctx, schema.Tasks, task("a", "todo", t0))
	})
	require.NoError(t, err)

	v.Invalidate()
	rows, err := v.Rows(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestView_ReturnsCopies(t *testing.T) {
	repos := setup(t)
	ctx := context.Background()
	st := repos.Store
	require.NoError(t, st.Put(ctx, schema.Tasks, task("a", "todo", t0)))
	v := projection.Active(st, schema.Tasks, "u1")

	rows, err := v.Rows(ctx)
	require.NoError(t, err)
	rows[0] = models.Record{}

	again, err := v.Rows(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0].ID)
}

func TestView_UnknownTable(t *testing.T) {
	repos := setup(t)
	_, err := projection.Active(repos.Store, "widgets", "u1").Rows(context.Background())
	assert.Error(t, err)
}
