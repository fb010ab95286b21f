// Package fanout runs post-settlement side effects on a bounded worker pool.
//
// Tasks run after the settlement transaction has committed. A task failure,
// panic or timeout is logged and counted; it never reaches the player and
// never touches the settled bet. When the queue is full a task is dropped
// rather than blocking the caller.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/atmx/settlement-engine/internal/metrics"
)

// ErrQueueFull is returned by Submit when the task was dropped.
var ErrQueueFull = errors.New("fanout: queue full")

// ErrStopped is returned by Submit after Shutdown.
var ErrStopped = errors.New("fanout: dispatcher stopped")

// Task is one unit of post-settlement work.
type Task struct {
	Name   string
	BetID  string
	UserID string
	Run    func(ctx context.Context) error
}

// Dispatcher is a fixed-size worker pool fed by a bounded queue.
type Dispatcher struct {
	queue   chan Task
	workers int
	timeout time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
	started bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// New creates a dispatcher with the given worker count, queue capacity and
// per-task timeout. A zero timeout disables the per-task deadline.
func New(workers, queue int, timeout time.Duration, opts ...Option) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queue:   make(chan Task, queue),
		workers: workers,
		timeout: timeout,
		log:     slog.Default(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.stopped {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Submit enqueues t without blocking.
func (d *Dispatcher) Submit(t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(t, "stopped")
		return ErrStopped
	}
	select {
	case d.queue <- t:
		metrics.FanoutQueueDepth.Inc()
		return nil
	default:
		d.drop(t, "queue full")
		return ErrQueueFull
	}
}

func (d *Dispatcher) drop(t Task, reason string) {
	metrics.FanoutDropped.WithLabelValues(t.Name).Inc()
	d.log.Warn("fanout task dropped",
		"task", t.Name,
		"bet_id", t.BetID,
		"user_id", t.UserID,
		"reason", reason,
	)
}

// Shutdown stops accepting tasks and waits for queued tasks to finish. If
// ctx expires first, running tasks are cancelled, the remaining queue is
// discarded and ctx's error is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	started := d.started
	close(d.queue)
	d.mu.Unlock()

	if !started {
		d.discard()
		d.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) discard() {
	for t := range d.queue {
		metrics.FanoutQueueDepth.Dec()
		d.drop(t, "stopped")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.queue {
		metrics.FanoutQueueDepth.Dec()
		if d.ctx.Err() != nil {
			d.drop(t, "shutdown deadline")
			continue
		}
		d.execute(t)
	}
}

func (d *Dispatcher) execute(t Task) {
	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := run(ctx, t)
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, errPanic):
		outcome = "panic"
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	metrics.FanoutTasks.WithLabelValues(t.Name, outcome).Inc()

	if err != nil {
		d.log.Error("fanout task failed",
			"task", t.Name,
			"bet_id", t.BetID,
			"user_id", t.UserID,
			"outcome", outcome,
			"duration", time.Since(start),
			"err", err,
		)
	}
}

var errPanic = errors.New("panic")

func run(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v\n%s", errPanic, r, debug.Stack())
		}
	}()
	if t.Run == nil {
		return errors.New("fanout: task has no Run func")
	}
	return t.Run(ctx)
}
