package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophnotes/internal/common"
	"github.com/dmitrijs2005/gophnotes/internal/logging"
	"github.com/dmitrijs2005/gophnotes/internal/remote"
)

// job is one detached remote write.
type job struct {
	ctx   context.Context
	op    string
	table string
	id    string
	run   func(ctx context.Context) error
}

// dispatcher runs remote writes on a fixed set of workers fed by a bounded
// queue. Results are only logged.
type dispatcher struct {
	jobs    chan job
	timeout time.Duration
	log     logging.Logger

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup

	// pending counts accepted jobs not yet finished. idle is closed when
	// pending drops to zero and replaced when it rises again.
	pmu     sync.Mutex
	pending int
	idle    chan struct{}
}

func newDispatcher(workers, queue int, timeout time.Duration, log logging.Logger) *dispatcher {
	d := &dispatcher{
		jobs:    make(chan job, max(queue, 0)),
		timeout: timeout,
		log:     log,
		idle:    make(chan struct{}),
	}
	close(d.idle)
	for range max(workers, 1) {
		d.workers.Add(1)
		go d.work()
	}
	return d
}

// submit queues j and reports whether it was accepted. A full queue or a
// closed dispatcher drops the job.
func (d *dispatcher) submit(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	d.acquire()
	select {
	case d.jobs <- j:
		return true
	default:
		d.release()
		return false
	}
}

func (d *dispatcher) acquire() {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	if d.pending == 0 {
		d.idle = make(chan struct{})
	}
	d.pending++
}

func (d *dispatcher) release() {
	d.pmu.Lock()
	defer d.pmu.Unlock()
	d.pending--
	if d.pending == 0 {
		close(d.idle)
	}
}

func (d *dispatcher) work() {
	defer d.workers.Done()
	for j := range d.jobs {
		d.exec(j)
		d.release()
	}
}

func (d *dispatcher) exec(j job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(j.ctx), d.timeout)
	defer cancel()
	ctx = logging.ContextWith(ctx, "op", j.op, "table", j.table, "id", j.id)

	err := j.run(ctx)
	switch {
	case err == nil:
		d.log.Debug(ctx, "remote write applied")
	case errors.Is(err, common.ErrVersionConflict):
		d.log.Info(ctx, "remote write superseded", "error", err)
	case remote.IsUnavailable(err), errors.Is(err, context.DeadlineExceeded):
		d.log.Warn(ctx, "remote unavailable, left to outbox", "error", err)
	default:
		d.log.Error(ctx, "remote write failed", "error", err)
	}
}

// wait blocks until every job accepted before the call has finished or ctx
// is done. Jobs submitted meanwhile may extend the wait until the queue is
// idle.
func (d *dispatcher) wait(ctx context.Context) error {
	d.pmu.Lock()
	idle := d.idle
	d.pmu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting jobs and waits for the workers to drain the queue.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
