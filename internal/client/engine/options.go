package engine

import (
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/logging"
)

const (
	DefaultRemoteTimeout = 10 * time.Second
	DefaultWorkers       = 4
	DefaultQueue         = 256
)

type Option func(*Engine)

func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the UUID v4 generator for new record ids.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithRemoteTimeout bounds every detached remote write.
func WithRemoteTimeout(d time.Duration) Option {
	return func(e *Engine) { e.remoteTimeout = d }
}

// WithDispatcher sets the number of remote write workers and the size of
// their queue. Writes submitted while the queue is full are dropped and
// stay in the outbox.
func WithDispatcher(workers, queue int) Option {
	return func(e *Engine) { e.workers, e.queue = workers, queue }
}
