package background

import (
	"context"
	"errors"
	"sync"
	"time"

	"portfolio-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

var _ Dispatcher = (*Queue)(nil)

// ErrQueueClosed is returned by Shutdown when called more than once
var ErrQueueClosed = errors.New("background queue already closed")

type job struct {
	ctx  context.Context
	name string
	task Task
}

// Queue is a bounded worker pool for long-running processes. Tasks submitted
// while the queue is full or closed are dropped with a warning.
type Queue struct {
	jobs    chan job
	workers int
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup

	// OnDrop is called with the task name whenever a task is dropped
	OnDrop func(name string)
}

// NewQueue creates a queue with the given number of workers and capacity
func NewQueue(workers, capacity int, timeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		jobs:    make(chan job, capacity),
		workers: workers,
		timeout: timeout,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for j := range q.jobs {
				run(j.ctx, j.name, q.timeout, j.task)
			}
		}()
	}

	logger.Log.WithFields(logrus.Fields{
		"workers":  q.workers,
		"capacity": cap(q.jobs),
	}).Info("Background queue started")
}

// Go enqueues task without blocking
func (q *Queue) Go(ctx context.Context, name string, task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.drop(name, "closed")
		return false
	}

	select {
	case q.jobs <- job{ctx: ctx, name: name, task: task}:
		return true
	default:
		q.drop(name, "full")
		return false
	}
}

func (q *Queue) drop(name, reason string) {
	logger.Log.WithFields(logrus.Fields{
		"task":   name,
		"reason": reason,
	}).Warn("Background task dropped")
	if q.OnDrop != nil {
		q.OnDrop(name)
	}
}

// Len returns the number of tasks waiting for a worker
func (q *Queue) Len() int {
	return len(q.jobs)
}

// Shutdown stops accepting tasks and waits for queued tasks to finish or
// ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.closed = true
	close(q.jobs)
	started := q.started
	q.mu.Unlock()

	if !started {
		// Drain inline so nothing accepted before shutdown is lost
		for j := range q.jobs {
			run(j.ctx, j.name, q.timeout, j.task)
		}
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Log.Info("Background queue drained")
		return nil
	case <-ctx.Done():
		logger.Log.WithField("pending", len(q.jobs)).Warn("Background queue shutdown timed out")
		return ctx.Err()
	}
}
