package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/client/client"
	"github.com/dmitrijs2005/gophnotes/internal/client/config"
	"github.com/dmitrijs2005/gophnotes/internal/client/engine"
	"github.com/dmitrijs2005/gophnotes/internal/client/hydration"
	"github.com/dmitrijs2005/gophnotes/internal/client/session"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
	"github.com/dmitrijs2005/gophnotes/internal/remote/remotetest"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testApp struct {
	*App
	out    *bytes.Buffer
	remote *remotetest.Store
	repos  *client.Repositories
}

func newTestApp(t *testing.T, rem remote.Store) *testApp {
	t.Helper()
	ctx := context.Background()
	repos, err := client.OpenRepositories(ctx, client.MemoryDSN, schema.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repos.Close() })

	fake := remotetest.New()
	if rem == nil {
		rem = fake
	}

	sess := session.NewTokenProvider(repos.Metadata, []byte(testSecret))
	eng := engine.New(repos.DB, repos.Store, repos.Outbox, rem, sess)
	t.Cleanup(func() { _ = eng.Close(context.Background()) })

	app := NewApp(Deps{
		Config:    &config.Config{SessionSecret: testSecret},
		Repos:     repos,
		Engine:    eng,
		Hydration: hydration.New(repos.DB, repos.Store, rem, sess),
		Session:   sess,
		Remote:    rem,
	})
	out := &bytes.Buffer{}
	app.out = out
	return &testApp{App: app, out: out, remote: fake, repos: repos}
}

func (a *testApp) login(t *testing.T, user string) {
	t.Helper()
	tok, err := session.GenerateToken([]byte(testSecret), user, time.Hour)
	require.NoError(t, err)
	require.NoError(t, a.Login(context.Background(), []string{tok}))
	a.hyd.Wait()
	a.out.Reset()
}

func (a *testApp) lastID(t *testing.T) string {
	t.Helper()
	s := strings.TrimSpace(a.out.String())
	id, ok := strings.CutPrefix(s, "Created ")
	require.True(t, ok, s)
	a.out.Reset()
	return id
}

func TestApp_LoginHydratesAndWhoami(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	a.remote.Seed(schema.Tasks, models.Record{
		ID: "r1", OwnerID: "u1", Fields: map[string]any{"title": "From remote"}, CreatedAt: now, UpdatedAt: now,
	})

	assert.False(t, a.isLoggedIn())
	a.login(t, "u1")
	assert.True(t, a.isLoggedIn())
	assert.Equal(t, "(u1 )", a.getStatus())

	require.NoError(t, a.Whoami(ctx))
	out := a.out.String()
	assert.Contains(t, out, "user: u1")
	assert.Contains(t, out, "hydrated tasks: 1 records")

	a.out.Reset()
	require.NoError(t, a.List(ctx, []string{schema.Tasks}))
	assert.Contains(t, a.out.String(), "From remote")
}

func TestApp_LoginPromptsForToken(t *testing.T) {
	a := newTestApp(t, nil)
	tok, err := session.GenerateToken([]byte(testSecret), "u1", time.Hour)
	require.NoError(t, err)

	orig := getSecret
	getSecret = func(string, io.Writer) (string, error) { return tok, nil }
	t.Cleanup(func() { getSecret = orig })

	require.NoError(t, a.Login(context.Background(), nil))
	a.hyd.Wait()
	assert.Contains(t, a.out.String(), "Logged in as u1")
}

func TestApp_LoginRejectsForeignToken(t *testing.T) {
	a := newTestApp(t, nil)
	tok, err := session.GenerateToken([]byte("other"), "u1", time.Hour)
	require.NoError(t, err)

	err = a.Login(context.Background(), []string{tok})
	assert.True(t, errors.Is(err, common.ErrInvalidToken))
	assert.False(t, a.isLoggedIn())
}

func TestApp_Token(t *testing.T) {
	a := newTestApp(t, nil)
	require.NoError(t, a.Token(context.Background(), []string{"u9", "1h"}))

	claims, err := session.ParseToken(strings.TrimSpace(a.out.String()), []byte(testSecret), time.Now)
	require.NoError(t, err)
	assert.Equal(t, "u9", claims.UserID)

	assert.True(t, errors.Is(a.Token(context.Background(), nil), errUsage))
	assert.Error(t, a.Token(context.Background(), []string{"u9", "soon"}))
}

func TestApp_RecordLifecycle(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	a.login(t, "u1")

	require.NoError(t, a.Add(ctx, []string{schema.Tasks, "title=Buy_milk", "status=todo"}))
	id := a.lastID(t)

	require.NoError(t, a.Set(ctx, []string{schema.Tasks, id, "title=Buy_oat_milk"}))
	assert.Contains(t, a.out.String(), `"title": "Buy oat milk"`)
	a.out.Reset()

	require.NoError(t, a.List(ctx, []string{schema.Tasks, "todo"}))
	assert.Contains(t, a.out.String(), "Buy oat milk")
	a.out.Reset()

	require.NoError(t, a.Remove(ctx, []string{schema.Tasks, id}))
	a.out.Reset()
	require.NoError(t, a.List(ctx, []string{schema.Tasks}))
	assert.Contains(t, a.out.String(), "No records")
	a.out.Reset()

	require.NoError(t, a.Trash(ctx, []string{schema.Tasks}))
	assert.Contains(t, a.out.String(), id)
	a.out.Reset()

	require.NoError(t, a.Restore(ctx, []string{schema.Tasks, id}))
	a.out.Reset()
	require.NoError(t, a.Show(ctx, []string{schema.Tasks, id}))
	assert.Contains(t, a.out.String(), `"deleted_at": null`)
	a.out.Reset()

	require.NoError(t, a.Outbox(ctx, []string{"10"}))
	out := a.out.String()
	assert.Contains(t, out, "4 pending")
	for _, action := range []string{"insert", "update", "delete"} {
		assert.Contains(t, out, action)
	}
}

func TestApp_CommandsNeedSession(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	assert.True(t, errors.Is(a.Add(ctx, []string{schema.Tasks, "title=x"}), common.ErrNoSession))
	assert.True(t, errors.Is(a.List(ctx, []string{schema.Tasks}), common.ErrNoSession))
	assert.True(t, errors.Is(a.Hydrate(ctx, nil), common.ErrNoSession))
	assert.True(t, errors.Is(a.Whoami(ctx), common.ErrNoSession))
}

func TestApp_Usage(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	for name, err := range map[string]error{
		"add":     a.Add(ctx, nil),
		"set":     a.Set(ctx, []string{schema.Tasks}),
		"rm":      a.Remove(ctx, nil),
		"restore": a.Restore(ctx, nil),
		"show":    a.Show(ctx, []string{schema.Tasks}),
		"list":    a.List(ctx, nil),
		"trash":   a.Trash(ctx, nil),
		"outbox":  a.Outbox(ctx, []string{"-1"}),
		"purge":   a.Purge(ctx, []string{schema.Tasks}),
	} {
		assert.True(t, errors.Is(err, errUsage), name)
	}
}

func TestApp_HydrateAndTables(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	a.login(t, "u1")

	require.NoError(t, a.Hydrate(ctx, []string{schema.Tasks}))
	assert.Contains(t, a.out.String(), "skipped")
	a.out.Reset()

	require.NoError(t, a.Tables(ctx))
	out := a.out.String()
	assert.Contains(t, out, "user_settings")
	assert.Contains(t, out, "status,due_date,priority")
}

func TestApp_PurgeAndLogout(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()
	a.login(t, "u1")

	require.NoError(t, a.Add(ctx, []string{schema.Tasks, "title=old"}))
	id := a.lastID(t)
	require.NoError(t, a.Remove(ctx, []string{schema.Tasks, id}))
	a.out.Reset()

	a.nowFunc = func() time.Time { return time.Now().Add(48 * time.Hour) }
	require.NoError(t, a.Purge(ctx, []string{schema.Tasks, "24h"}))
	assert.Contains(t, a.out.String(), "Purged 1 records")

	require.NoError(t, a.Logout(ctx))
	assert.False(t, a.isLoggedIn())
	assert.Empty(t, a.views)
}

func TestApp_OnlineWatcher(t *testing.T) {
	a := newTestApp(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	a.checkOnline(ctx, a.remote)
	assert.Equal(t, ModeOnline, a.Mode())

	a.remote.FailReads(remote.Unavailable(errors.New("down")))
	a.checkOnline(ctx, a.remote)
	assert.Equal(t, ModeOffline, a.Mode())

	cancel()
	a.StartOnlineStatusWatcher(ctx, time.Hour)
	assert.Equal(t, ModeOffline, a.Mode())
}

type noPing struct{ remote.Store }

func TestApp_WatcherDisabledWithoutPinger(t *testing.T) {
	a := newTestApp(t, noPing{remotetest.New()})
	a.StartOnlineStatusWatcher(context.Background(), time.Millisecond)
	assert.Equal(t, ModeDisabled, a.Mode())
}
