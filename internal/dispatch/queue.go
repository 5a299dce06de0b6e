// Package dispatch runs slow side effects (file, database, broker, alert
// delivery) off the control loop on a single bounded worker.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/lc-interface-test/internal/logger"
)

// ErrDrainTimeout is returned by Close when queued jobs did not finish in time.
var ErrDrainTimeout = errors.New("dispatch: drain timed out")

// Job is a unit of deferred work. A returned error triggers a retry.
type Job func(ctx context.Context) error

type task struct {
	name string
	run  Job
}

// Queue is a bounded FIFO of jobs executed by one worker goroutine.
// Submit never blocks: when the buffer is full the job is dropped and counted.
type Queue struct {
	mu      sync.RWMutex
	closed  bool
	tasks   chan task
	retries int
	backoff time.Duration
	log     *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	dropped atomic.Int64
	failed  atomic.Int64
}

// New creates a queue holding at most size pending jobs. Each job is tried
// 1+retries times with backoff between attempts.
func New(size, retries int, backoff time.Duration, log *logger.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if retries < 0 {
		retries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		tasks:   make(chan task, size),
		retries: retries,
		backoff: backoff,
		log:     logger.OrNop(log).Named("dispatch"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go q.worker()
	return q
}

// Submit enqueues fn. It reports false if the queue is full or closed.
func (q *Queue) Submit(name string, fn Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return false
	}
	select {
	case q.tasks <- task{name: name, run: fn}:
		return true
	default:
		n := q.dropped.Add(1)
		q.log.Warnw("queue full, job dropped", "job", name, "dropped_total", n)
		return false
	}
}

// Dropped returns the number of jobs rejected because the queue was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Failed returns the number of jobs that exhausted their retries.
func (q *Queue) Failed() int64 { return q.failed.Load() }

// Pending returns the number of queued jobs not yet started.
func (q *Queue) Pending() int { return len(q.tasks) }

func (q *Queue) worker() {
	defer close(q.done)
	for t := range q.tasks {
		if q.ctx.Err() != nil {
			q.failed.Add(1)
			continue
		}
		q.execute(t)
	}
}

func (q *Queue) execute(t task) {
	var err error
	for attempt := 0; attempt <= q.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(q.backoff):
			case <-q.ctx.Done():
				q.failed.Add(1)
				q.log.Errorw("job abandoned", "job", t.name, "err", err)
				return
			}
		}
		if err = t.run(q.ctx); err == nil {
			return
		}
		q.log.Warnw("job failed", "job", t.name, "attempt", attempt+1, "err", err)
	}
	q.failed.Add(1)
	q.log.Errorw("job gave up", "job", t.name, "attempts", q.retries+1, "err", err)
}

// Close stops accepting jobs and waits up to timeout for queued jobs to
// finish. On timeout the running job's context is cancelled and the
// remaining jobs are abandoned.
func (q *Queue) Close(timeout time.Duration) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-time.After(timeout):
		q.cancel()
		return ErrDrainTimeout
	}
}
