package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/gophnotes/internal/client/client"
	"github.com/dmitrijs2005/gophnotes/internal/client/config"
	"github.com/dmitrijs2005/gophnotes/internal/client/engine"
	"github.com/dmitrijs2005/gophnotes/internal/client/hydration"
	"github.com/dmitrijs2005/gophnotes/internal/client/session"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
	"github.com/dmitrijs2005/gophnotes/internal/remote/objectstore"
	"github.com/dmitrijs2005/gophnotes/internal/remote/postgres"
	"github.com/dmitrijs2005/gophnotes/internal/schema"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Bootstrap wires the client from cfg. The returned cleanup closes the
// engine, the remote and the local database.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	gate, err := hydration.ParseGate(cfg.HydrationGate)
	if err != nil {
		return nil, nil, err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	reg := schema.Default()
	repos, err := client.OpenRepositories(ctx, cfg.LocalDBPath, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("local database init error: %w", err)
	}

	rem, closeRemote, err := newRemote(ctx, cfg, reg)
	if err != nil {
		_ = repos.Close()
		return nil, nil, fmt.Errorf("remote init error: %w", err)
	}

	sess := session.NewTokenProvider(repos.Metadata, []byte(cfg.SessionSecret))

	eng := engine.New(repos.DB, repos.Store, repos.Outbox, rem, sess,
		engine.WithLogger(log.With("component", "engine")),
		engine.WithRemoteTimeout(cfg.RemoteTimeout),
		engine.WithDispatcher(cfg.DispatchWorkers, cfg.DispatchQueue),
	)

	hyd := hydration.New(repos.DB, repos.Store, rem, sess,
		hydration.WithLogger(log.With("component", "hydration")),
		hydration.WithTimeout(cfg.HydrateTimeout),
		hydration.WithGate(gate),
	)

	app := NewApp(Deps{
		Config:    cfg,
		Repos:     repos,
		Engine:    eng,
		Hydration: hyd,
		Session:   sess,
		Remote:    rem,
		Logger:    log,
	})

	cleanup := func() {
		cctx, cancel := context.WithTimeout(context.Background(), cfg.RemoteTimeout)
		defer cancel()
		if err := eng.Close(cctx); err != nil {
			log.Warn(cctx, "pending remote writes abandoned", "error", err)
		}
		hyd.Wait()
		closeRemote()
		if err := repos.Close(); err != nil {
			log.Error(cctx, "failed to close local database", "error", err)
		}
	}
	return app, cleanup, nil
}

func newLogger(cfg *config.Config) (logging.Logger, error) {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return logging.New(cfg.LogBackend, w, cfg.LogLevel)
}

func newRemote(ctx context.Context, cfg *config.Config, reg *schema.Registry) (remote.Store, func(), error) {
	switch cfg.RemoteBackend {
	case config.RemotePostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewStore(pool, reg), pool.Close, nil

	case config.RemoteS3:
		api, err := objectstore.NewClient(ctx, objectstore.Options{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return objectstore.NewStore(api, cfg.S3Bucket, reg), func() {}, nil

	case config.RemoteNone, "":
		return remote.Offline{}, func() {}, nil
	}
	return nil, nil, errors.New("unknown remote backend " + cfg.RemoteBackend)
}

// WithSignals returns a context cancelled on SIGINT, SIGTERM or SIGQUIT.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}
