// Package hydration seeds empty local tables from the remote store.
//
// A table is hydrated for an owner at most once per Controller: the first
// attempt for a (owner, table) pair reads the remote snapshot and bulk loads
// it only if the local table still has no live rows for that owner. Remote
// failures are logged and reported in the Result, never returned.
package hydration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/client/localstore"
	"github.com/dmitrijs2005/gophnotes/internal/client/session"
	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/dbx"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/models"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
	"golang.org/x/sync/errgroup"
)

type Status int

const (
	// StatusSkipped means no remote read happened: the table already had
	// data, was attempted before, or the gate said so.
	StatusSkipped Status = iota
	StatusHydrated
	StatusEmpty
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSkipped:
		return "skipped"
	case StatusHydrated:
		return "hydrated"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Gate decides when a table counts as already hydrated.
type Gate string

const (
	// GateEmpty hydrates whenever the local table has no live rows.
	GateEmpty Gate = "empty"
	// GateOnce additionally skips tables with a recorded hydration mark, so
	// a table emptied by soft deletes is not refilled from remote.
	GateOnce Gate = "once"
)

// ParseGate converts a configured gate name. Empty means GateEmpty.
func ParseGate(s string) (Gate, error) {
	switch g := Gate(s); g {
	case "":
		return GateEmpty, nil
	case GateEmpty, GateOnce:
		return g, nil
	default:
		return "", fmt.Errorf("unknown hydration gate %q", s)
	}
}

const (
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 4
)

// Result describes one Hydrate call.
type Result struct {
	Table   string
	Owner   string
	Status  Status
	Records int
	Err     error
}

type key struct{ owner, table string }

var errLocalWon = errors.New("local data appeared during hydration")

type Controller struct {
	db      dbx.TxBeginner
	store   *localstore.Store
	marks   *Marks
	remote  remote.Store
	session session.Provider
	log     logging.Logger

	gate    Gate
	timeout time.Duration
	limit   int
	now     func() time.Time

	mu        sync.Mutex
	attempted map[key]struct{}
	wg        sync.WaitGroup
}

type Option func(*Controller)

func WithLogger(l logging.Logger) Option { return func(c *Controller) { c.log = l } }

func WithGate(g Gate) Option { return func(c *Controller) { c.gate = g } }

// WithTimeout bounds each remote read.
func WithTimeout(d time.Duration) Option { return func(c *Controller) { c.timeout = d } }

// WithConcurrency bounds how many tables HydrateAll loads at once.
func WithConcurrency(n int) Option { return func(c *Controller) { c.limit = n } }

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// New returns a Controller. store must be backed by db.
func New(db *sql.DB, store *localstore.Store, rem remote.Store, sess session.Provider, opts ...Option) *Controller {
	c := &Controller{
		db:        db,
		store:     store,
		marks:     NewMarks(db),
		remote:    rem,
		session:   sess,
		log:       logging.Nop(),
		gate:      GateEmpty,
		timeout:   DefaultTimeout,
		limit:     DefaultConcurrency,
		now:       time.Now,
		attempted: map[key]struct{}{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Marks exposes the hydration marks repository.
func (c *Controller) Marks() *Marks {
	return c.marks
}

// Hydrate loads table for owner from remote if the local table is empty.
func (c *Controller) Hydrate(ctx context.Context, table, owner string) Result {
	res := Result{Table: table, Owner: owner}

	if !c.claim(key{owner, table}) {
		return res
	}

	log := c.log.With("table", table, "owner", owner)

	if _, err := c.store.Registry().Lookup(table); err != nil {
		res.Status, res.Err = StatusFailed, err
		return res
	}

	if c.gate == GateOnce {
		_, err := c.marks.Get(ctx, table, owner)
		if err == nil {
			log.Debug(ctx, "hydration skipped, table hydrated before")
			return res
		}
		if !errors.Is(err, common.ErrNotFound) {
			return c.fail(ctx, log, res, err)
		}
	}

	n, err := c.store.Count(ctx, table, owner)
	if err != nil {
		return c.fail(ctx, log, res, err)
	}
	if n > 0 {
		log.Debug(ctx, "hydration skipped, local data present", "records", n)
		return res
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	recs, err := c.remote.Read(rctx, table, owner)
	cancel()
	if err != nil {
		return c.fail(ctx, log, res, err)
	}

	live := recs[:0:0]
	for _, r := range recs {
		if r.OwnerID == owner && r.Live() {
			live = append(live, r)
		}
	}
	if len(live) == 0 {
		res.Status = StatusEmpty
		log.Debug(ctx, "remote table empty")
		return res
	}

	err = dbx.WithTx(ctx, c.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		st := c.store.WithTx(tx)
		n, err := st.Count(ctx, table, owner)
		if err != nil {
			return err
		}
		if n > 0 {
			return errLocalWon
		}
		if err := st.BulkPut(ctx, table, live); err != nil {
			return err
		}
		return c.marks.WithTx(tx).Save(ctx, Mark{
			Table:       table,
			OwnerID:     owner,
			HydratedAt:  models.NormalizeTime(c.now()),
			RecordCount: len(live),
		})
	})
	if errors.Is(err, errLocalWon) {
		log.Info(ctx, "hydration discarded, local write arrived first")
		return res
	}
	if err != nil {
		return c.fail(ctx, log, res, err)
	}

	c.store.Touch(table)
	res.Status, res.Records = StatusHydrated, len(live)
	log.Info(ctx, "table hydrated", "records", len(live))
	return res
}

// HydrateAll runs Hydrate for every registry table concurrently. Results
// follow registry order.
func (c *Controller) HydrateAll(ctx context.Context, owner string) []Result {
	tables := c.store.Registry().Names()
	results := make([]Result, len(tables))

	var g errgroup.Group
	g.SetLimit(max(c.limit, 1))
	for i, t := range tables {
		g.Go(func() error {
			results[i] = c.Hydrate(ctx, t, owner)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Start hydrates every table of the current user in the background and
// reports whether a session was present. Use Wait to block until done.
func (c *Controller) Start(ctx context.Context) bool {
	owner, ok := c.session.CurrentUserID()
	if !ok {
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var hydrated, failed int
		for _, r := range c.HydrateAll(ctx, owner) {
			switch r.Status {
			case StatusHydrated:
				hydrated++
			case StatusFailed:
				failed++
			}
		}
		c.log.Info(ctx, "session hydration finished", "owner", owner, "hydrated", hydrated, "failed", failed)
	}()
	return true
}

// Wait blocks until every hydration started with Start has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Attempted reports whether table was already attempted for owner.
func (c *Controller) Attempted(table, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.attempted[key{owner, table}]
	return ok
}

func (c *Controller) claim(k key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attempted[k]; ok {
		return false
	}
	c.attempted[k] = struct{}{}
	return true
}

func (c *Controller) fail(ctx context.Context, log logging.Logger, res Result, err error) Result {
	if remote.IsUnavailable(err) {
		log.Warn(ctx, "hydration failed, remote unavailable", "error", err)
	} else {
		log.Error(ctx, "hydration failed", "error", err)
	}
	res.Status, res.Err = StatusFailed, err
	return res
}
