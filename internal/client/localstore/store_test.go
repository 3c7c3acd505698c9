package localstore

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, schema.Default())
	require.NoError(t, s.EnsureTables(context.Background()))
	return s, db
}

func rec(id, owner string, at time.Time, fields map[string]any) models.Record {
	if fields == nil {
		fields = map[string]any{}
	}
	return models.Record{ID: id, OwnerID: owner, Fields: fields, CreatedAt: at, UpdatedAt: at}
}

func ids(recs []models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

func TestEnsureTables_IdempotentAndIndexed(t *testing.T) {
	s, db := setupStore(t)
	require.NoError(t, s.EnsureTables(context.Background()))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='tasks_status_idx'`).Scan(&n))
	assert.Equal(t, 1, n)

	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='user_settings'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestPutGet_WriteThenRead(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	in := rec("a", "u1", t0, map[string]any{"title": "Buy milk", "status": "todo", "priority": float64(2)})
	require.NoError(t, s.Put(ctx, schema.Tasks, in))

	got, err := s.Get(ctx, schema.Tasks, "a")
	require.NoError(t, err)
	assert.Equal(t, in, got)
	assert.True(t, got.Live())
}

func TestPut_OverwritesExisting(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, schema.Tasks, rec("a", "u1", t0, map[string]any{"title": "old", "notes": "x"})))
	require.NoError(t, s.Put(ctx, schema.Tasks, rec("a", "u1", t0.Add(time.Minute), map[string]any{"title": "new"})))

	got, err := s.Get(ctx, schema.Tasks, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "new"}, got.Fields)
	assert.Equal(t, t0.Add(time.Minute), got.UpdatedAt)
}

func TestPut_Validation(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.Error(t, s.Put(ctx, schema.Tasks, rec("", "u1", t0, nil)))
	require.Error(t, s.Put(ctx, schema.Tasks, rec("a", "", t0, nil)))

	err := s.Put(ctx, schema.Tasks, rec("a", "u1", t0, map[string]any{"deleted_at": nil}))
	assert.True(t, errors.Is(err, common.ErrReservedField))

	err = s.Put(ctx, "widgets", rec("a", "u1", t0, nil))
	assert.True(t, errors.Is(err, common.ErrUnknownTable))
}

func TestGet_NotFound(t *testing.T) {
	s, _ := setupStore(t)

	_, err := s.Get(context.Background(), schema.Tasks, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestUpdate_MergesFields(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, schema.Tasks, rec("a", "u1", t0, map[string]any{"title": "Buy milk", "status": "todo", "notes": "2l"})))

	later := t0.Add(time.Hour)
	got, err := s.Update(ctx, schema.Tasks, "a", Patch{
		Fields:    map[string]any{"status": "done", "notes": nil},
		UpdatedAt: &later,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"title": "Buy milk", "status": "done"}, got.Fields)
	assert.Equal(t, later, got.UpdatedAt)
	assert.Equal(t, t0, got.CreatedAt)

	stored, err := s.Get(ctx, schema.Tasks, "a")
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestUpdate_TombstoneAndRestore(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, schema.Tasks, rec("a", "u1", t0, map[string]any{"title": "x"})))

	del := t0.Add(time.Minute)
	got, err := s.Update(ctx, schema.Tasks, "a", Patch{DeletedAt: &del, UpdatedAt: &del})
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.Equal(t, del, *got.DeletedAt)

	n, err := s.Count(ctx, schema.Tasks, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err = s.Update(ctx, schema.Tasks, "a", Patch{Restore: true})
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
}

func TestUpdate_Errors(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, schema.Tasks, "missing", Patch{Fields: map[string]any{"title": "x"}})
	assert.True(t, errors.Is(err, common.ErrNotFound))

	_, err = s.Update(ctx, schema.Tasks, "a", Patch{Fields: map[string]any{"owner_id": "u2"}})
	assert.True(t, errors.Is(err, common.ErrReservedField))
}

func TestQueryByOwner_DefaultOrderAndTombstones(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, schema.Tasks, rec("old", "u1", t0, nil)))
	require.NoError(t, s.Put(ctx, schema.Tasks, rec("new", "u1", t0.Add(2*time.Minute), nil)))
	mid := rec("gone", "u1", t0.Add(time.Minute), nil)
	del := t0.Add(3 * time.Minute)
	mid.DeletedAt = &del
	require.NoError(t, s.Put(ctx, schema.Tasks, mid))
	require.NoError(t, s.Put(ctx, schema.Tasks, rec("other", "u2", t0, nil)))

	live, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids(live))

	all, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "gone", "old"}, ids(all))

	trash, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{OnlyDeleted: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"gone"}, ids(trash))

	asc, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, ids(asc))

	none, err := s.QueryByOwner(ctx, schema.Tasks, "nobody", Query{})
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestQueryByOwner_WhereOrderLimitFilter(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.BulkPut(ctx, schema.Tasks, []models.Record{
		rec("t1", "u1", t0, map[string]any{"status": "todo", "due_date": "2025-03-10", "title": "b"}),
		rec("t2", "u1", t0.Add(time.Second), map[string]any{"status": "done", "due_date": "2025-03-05", "title": "a"}),
		rec("t3", "u1", t0.Add(2*time.Second), map[string]any{"status": "todo", "due_date": "2025-03-01", "title": "c"}),
	}))
	require.NoError(t, s.BulkPut(ctx, schema.Pages, []models.Record{
		rec("p1", "u1", t0, map[string]any{"is_favorite": true}),
		rec("p2", "u1", t0, map[string]any{"is_favorite": false}),
		rec("p3", "u1", t0, map[string]any{"title": "no flag"}),
	}))

	todo, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{Where: map[string]any{"status": "todo"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t1"}, ids(todo))

	byDue, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{OrderBy: "due_date", Ascending: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t2", "t1"}, ids(byDue))

	limited, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{OrderBy: "due_date", Ascending: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"t3", "t2"}, ids(limited))

	filtered, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{
		Filter: func(r models.Record) bool { return r.String("title") != "c" },
		Limit:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, ids(filtered))

	favs, err := s.QueryByOwner(ctx, schema.Pages, "u1", Query{Where: map[string]any{"is_favorite": true}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, ids(favs))

	unflagged, err := s.QueryByOwner(ctx, schema.Pages, "u1", Query{Where: map[string]any{"is_favorite": nil}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p3"}, ids(unflagged))
}

func TestQueryByOwner_Errors(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	_, err := s.QueryByOwner(ctx, schema.Tasks, "u1", Query{OrderBy: "title"})
	assert.True(t, errors.Is(err, common.ErrUnindexed))

	_, err = s.QueryByOwner(ctx, schema.Tasks, "u1", Query{Where: map[string]any{"owner_id": "u2"}})
	assert.True(t, errors.Is(err, common.ErrReservedField))

	_, err = s.QueryByOwner(ctx, schema.Tasks, "u1", Query{Where: map[string]any{"x') OR 1=1 --": 1}})
	require.Error(t, err)

	_, err = s.QueryByOwner(ctx, "widgets", "u1", Query{})
	assert.True(t, errors.Is(err, common.ErrUnknownTable))

	for _, v := range []any{map[string]any{"a": 1}, []any{"todo", "done"}, struct{}{}} {
		_, err = s.QueryByOwner(ctx, schema.Tasks, "u1", Query{Where: map[string]any{"status": v}})
		require.Error(t, err)
		assert.ErrorContains(t, err, "where status: unsupported value type")
		assert.False(t, errors.Is(err, common.ErrLocalStorage))
	}
}

func TestBulkPut_AllOrNothing(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	err := s.BulkPut(ctx, schema.Tasks, []models.Record{
		rec("a", "u1", t0, nil),
		rec("b", "", t0, nil),
	})
	require.Error(t, err)

	n, err := s.Count(ctx, schema.Tasks, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.BulkPut(ctx, schema.Tasks, nil))
}

func TestBulkPut_OverwritesExistingIDs(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, schema.Tasks, rec("a", "u1", t0, map[string]any{"title": "local"})))
	require.NoError(t, s.BulkPut(ctx, schema.Tasks, []models.Record{rec("a", "u1", t0, map[string]any{"title": "remote"})}))

	got, err := s.Get(ctx, schema.Tasks, "a")
	require.NoError(t, err)
	assert.Equal(t, "remote", got.String("title"))
}

func TestCount_LiveOnlyPerOwner(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	del := t0
	gone := rec("c", "u1", t0, nil)
	gone.DeletedAt = &del
	require.NoError(t, s.BulkPut(ctx, schema.Tasks, []models.Record{
		rec("a", "u1", t0, nil), rec("b", "u1", t0, nil), gone, rec("d", "u2", t0, nil),
	}))

	n, err := s.Count(ctx, schema.Tasks, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPurge_RemovesOldTombstonesOnly(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	oldDel, newDel := t0, t0.Add(48*time.Hour)
	a := rec("a", "u1", t0, nil)
	a.DeletedAt = &oldDel
	b := rec("b", "u1", t0, nil)
	b.DeletedAt = &newDel
	require.NoError(t, s.BulkPut(ctx, schema.Tasks, []models.Record{a, b, rec("c", "u1", t0, nil)}))

	n, err := s.Purge(ctx, schema.Tasks, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Get(ctx, schema.Tasks, "a")
	assert.True(t, errors.Is(err, common.ErrNotFound))
	_, err = s.Get(ctx, schema.Tasks, "b")
	require.NoError(t, err)
	_, err = s.Get(ctx, schema.Tasks, "c")
	require.NoError(t, err)
}

func TestRevision_DirectWritesBump(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	r0 := s.Revision(schema.Tasks)
	require.NoError(t, s.Put(ctx, schema.Tasks, rec("a", "u1", t0, nil)))
	r1 := s.Revision(schema.Tasks)
	assert.Greater(t, r1, r0)

	_, err := s.Update(ctx, schema.Tasks, "a", Patch{Fields: map[string]any{"title": "x"}})
	require.NoError(t, err)
	assert.Greater(t, s.Revision(schema.Tasks), r1)
	assert.Equal(t, uint64(0), s.Revision(schema.Pages))
}

func TestRevision_TxWritesWaitForTouch(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	r0 := s.Revision(schema.Tasks)
	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.WithTx(tx).Put(ctx, schema.Tasks, rec("a", "u1", t0, nil))
	})
	require.NoError(t, err)
	assert.Equal(t, r0, s.Revision(schema.Tasks))

	s.Touch(schema.Tasks)
	assert.Greater(t, s.Revision(schema.Tasks), r0)
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	s, db := setupStore(t)
	ctx := context.Background()

	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		st := s.WithTx(tx)
		require.NoError(t, st.Put(ctx, schema.Tasks, rec("a", "u1", t0, nil)))
		_, err := st.Update(ctx, schema.Tasks, "a", Patch{Fields: map[string]any{"title": "x"}})
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = s.Get(ctx, schema.Tasks, "a")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestClosedDB_WrapsLocalStorage(t *testing.T) {
	s, db := setupStore(t)
	require.NoError(t, db.Close())

	err := s.Put(context.Background(), schema.Tasks, rec("a", "u1", t0, nil))
	assert.True(t, errors.Is(err, common.ErrLocalStorage))

	_, err = s.Count(context.Background(), schema.Tasks, "u1")
	assert.True(t, errors.Is(err, common.ErrLocalStorage))
}
