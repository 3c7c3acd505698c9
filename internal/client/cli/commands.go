package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/client/hydration"
	"github.com/dmitrijs2005/gophnotes/internal/client/projection"
	"github.com/dmitrijs2005/gophnotes/internal/client/session"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/models"
)

const defaultTokenTTL = 24 * time.Hour

// getSecret is an indirection used to facilitate testing.
var getSecret = GetSecret

var errUsage = errors.New("usage")

func usage(format string) error {
	return fmt.Errorf("%w: %s", errUsage, format)
}

// Login stores a session token and starts hydrating the user's tables.
func (a *App) Login(ctx context.Context, args []string) error {
	var token string
	if len(args) > 0 {
		token = args[0]
	} else {
		t, err := getSecret("Enter session token", a.out)
		if err != nil {
			return err
		}
		token = t
	}

	uid, err := a.sess.Login(ctx, token)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", uid)

	if a.hyd.Start(ctx) {
		a.log.Info(ctx, "hydration started", "owner", uid)
	}
	return nil
}

// Token mints a session token with the local secret, for development setups
// without a separate auth service.
func (a *App) Token(_ context.Context, args []string) error {
	if len(args) == 0 {
		return usage("token <user> [ttl]")
	}
	ttl := defaultTokenTTL
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		ttl = d
	}
	tok, err := session.GenerateToken([]byte(a.cfg.SessionSecret), args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, tok)
	return nil
}

func (a *App) Logout(ctx context.Context) error {
	if err := a.sess.Logout(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	clear(a.views)
	a.mu.Unlock()
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) Whoami(ctx context.Context) error {
	uid, ok := a.sess.CurrentUserID()
	if !ok {
		return common.ErrNoSession
	}
	fmt.Fprintf(a.out, "user: %s\n", uid)
	if exp, ok := a.sess.ExpiresAt(); ok {
		fmt.Fprintf(a.out, "expires: %s\n", exp.Format(time.RFC3339))
	}
	if m := a.Mode(); m != "" {
		fmt.Fprintf(a.out, "mode: %s\n", m)
	}

	marks, err := a.hyd.Marks().List(ctx, uid)
	if err != nil {
		return err
	}
	for _, mk := range marks {
		fmt.Fprintf(a.out, "hydrated %s: %d records at %s\n", mk.Table, mk.RecordCount, mk.HydratedAt.Format(time.RFC3339))
	}
	return nil
}

func (a *App) Tables(context.Context) error {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSOFT DELETE\tINDEXES")
	for _, t := range a.eng.Registry().Tables() {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", t.Name, t.SoftDelete, strings.Join(t.Indexes, ","))
	}
	return tw.Flush()
}

func (a *App) Add(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usage("add <table> name=value...")
	}
	fields, err := ParseAssignments(args[1:])
	if err != nil {
		return err
	}
	rec, err := a.eng.Create(ctx, args[0], fields)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created %s\n", rec.ID)
	return nil
}

func (a *App) Set(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return usage("set <table> <id> name=value...")
	}
	fields, err := ParseAssignments(args[2:])
	if err != nil {
		return err
	}
	rec, err := a.eng.Update(ctx, args[0], args[1], fields)
	if err != nil {
		return err
	}
	return a.printRecord(rec)
}

func (a *App) Remove(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("rm <table> <id>")
	}
	if _, err := a.eng.SoftDelete(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Moved %s to trash\n", args[1])
	return nil
}

func (a *App) Restore(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("restore <table> <id>")
	}
	if _, err := a.eng.Restore(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Restored %s\n", args[1])
	return nil
}

func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("show <table> <id>")
	}
	rec, err := a.eng.Get(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	return a.printRecord(rec)
}

// List prints the live records of a table, optionally narrowed to a status.
func (a *App) List(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return usage("list <table> [status]")
	}
	status := ""
	if len(args) == 2 {
		status = args[1]
	}
	v, err := a.view(args[0], "list", status)
	if err != nil {
		return err
	}
	return a.printRows(ctx, v)
}

func (a *App) Trash(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("trash <table>")
	}
	v, err := a.view(args[0], "trash", "")
	if err != nil {
		return err
	}
	return a.printRows(ctx, v)
}

// Outbox prints the head of the outbox, the same entries a drain worker
// would pick up next.
func (a *App) Outbox(ctx context.Context, args []string) error {
	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v <= 0 {
			return usage("outbox [n]")
		}
		n = v
	}

	total, err := a.repos.Outbox.Len(ctx)
	if err != nil {
		return err
	}
	entries, err := a.repos.Outbox.PeekBatch(ctx, n)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%d pending\n", total)
	fmt.Fprintln(tw, "SEQ\tTABLE\tACTION\tRECORD\tAT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Table, e.Action, e.RecordID, e.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// Hydrate runs hydration synchronously for one table or all of them.
// Tables already attempted in this session are reported as skipped.
func (a *App) Hydrate(ctx context.Context, args []string) error {
	uid, ok := a.sess.CurrentUserID()
	if !ok {
		return common.ErrNoSession
	}

	var results []hydration.Result
	if len(args) > 0 {
		results = []hydration.Result{a.hyd.Hydrate(ctx, args[0], uid)}
	} else {
		results = a.hyd.HydrateAll(ctx, uid)
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSTATUS\tRECORDS\tERROR")
	for _, r := range results {
		msg := ""
		if r.Err != nil {
			msg = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.Table, r.Status, r.Records, msg)
	}
	return tw.Flush()
}

// Purge removes tombstones older than age from a table.
func (a *App) Purge(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return usage("purge <table> <age>")
	}
	age, err := time.ParseDuration(args[1])
	if err != nil {
		return fmt.Errorf("invalid age: %w", err)
	}
	n, err := a.repos.Store.Purge(ctx, args[0], a.nowFunc().Add(-age))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Purged %d records\n", n)
	return nil
}

func (a *App) view(table, kind, status string) (*projection.View, error) {
	uid, ok := a.sess.CurrentUserID()
	if !ok {
		return nil, common.ErrNoSession
	}
	if _, err := a.eng.Registry().Lookup(table); err != nil {
		return nil, err
	}

	key := strings.Join([]string{uid, table, kind, status}, "|")
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.views[key]; ok {
		return v, nil
	}

	var v *projection.View
	switch {
	case kind == "trash":
		v = projection.Trash(a.repos.Store, table, uid)
	case status != "":
		v = projection.ByStatus(a.repos.Store, table, uid, status)
	default:
		v = projection.Active(a.repos.Store, table, uid)
	}
	a.views[key] = v
	return v, nil
}

func (a *App) printRows(ctx context.Context, v *projection.View) error {
	rows, err := v.Rows(ctx)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.out, "No records")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tUPDATED")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, label(r), r.String("status"), r.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func (a *App) printRecord(rec models.Record) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(b))
	return nil
}

// label picks a human readable name for a record.
func label(r models.Record) string {
	for _, k := range []string{"title", "name", "period"} {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return "-"
}
