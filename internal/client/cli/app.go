package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/client/client"
	"github.com/dmitrijs2005/gophnotes/internal/client/config"
	"github.com/dmitrijs2005/gophnotes/internal/client/engine"
	"github.com/dmitrijs2005/gophnotes/internal/client/hydration"
	"github.com/dmitrijs2005/gophnotes/internal/client/projection"
	"github.com/dmitrijs2005/gophnotes/internal/client/session"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

// Deps are the components the shell drives.
type Deps struct {
	Config    *config.Config
	Repos     *client.Repositories
	Engine    *engine.Engine
	Hydration *hydration.Controller
	Session   *session.TokenProvider
	Remote    remote.Store
	Logger    logging.Logger
}

type App struct {
	cfg     *config.Config
	repos   *client.Repositories
	eng     *engine.Engine
	hyd     *hydration.Controller
	sess    *session.TokenProvider
	remote  remote.Store
	log     logging.Logger
	reader  *bufio.Reader
	out     io.Writer
	nowFunc func() time.Time

	mu    sync.Mutex
	mode  Mode
	views map[string]*projection.View
}

func NewApp(d Deps) *App {
	log := d.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &App{
		cfg:     d.Config,
		repos:   d.Repos,
		eng:     d.Engine,
		hyd:     d.Hydration,
		sess:    d.Session,
		remote:  d.Remote,
		log:     log,
		reader:  bufio.NewReader(os.Stdin),
		out:     os.Stdout,
		nowFunc: time.Now,
		views:   map[string]*projection.View{},
	}
}

// Run loads the stored session, starts hydration and the connectivity
// watcher, then serves the REPL on stdin until exit.
func (a *App) Run(ctx context.Context) error {
	if err := a.sess.Load(ctx); err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Welcome to gophnotes (type 'help' for commands)")
	if a.hyd.Start(ctx) {
		a.log.Info(ctx, "hydration started")
	}

	if _, ok := a.remote.(remote.Pinger); ok {
		go a.StartOnlineStatusWatcher(ctx, a.cfg.OnlineCheckInterval)
	} else {
		a.setMode(ModeDisabled)
	}

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
	return nil
}

func (a *App) isLoggedIn() bool {
	_, ok := a.sess.CurrentUserID()
	return ok
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) setMode(mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.log.Info(context.Background(), "connectivity changed", "mode", string(mode))
	}
}

func (a *App) getStatus() string {
	s := ""
	if uid, ok := a.sess.CurrentUserID(); ok {
		s = uid + " "
	}
	if m := a.Mode(); m != "" {
		s += string(m)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// StartOnlineStatusWatcher pings the remote every interval and switches the
// mode accordingly. It returns when ctx is done.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	p, ok := a.remote.(remote.Pinger)
	if !ok {
		a.setMode(ModeDisabled)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		a.checkOnline(ctx, p)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) checkOnline(ctx context.Context, p remote.Pinger) {
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	err := p.Ping(pctx)
	cancel()

	if err != nil {
		a.setMode(ModeOffline)
		return
	}
	a.setMode(ModeOnline)
}
