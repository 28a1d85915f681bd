// Package background runs best-effort work detached from the request that
// scheduled it.
package background

import (
	"context"
	"runtime/debug"
	"time"

	"portfolio-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

// Task is a unit of detached work. The context it receives is not canceled
// when the originating request ends.
type Task func(ctx context.Context)

// Dispatcher schedules detached tasks
type Dispatcher interface {
	// Go schedules task under name and reports whether it was accepted.
	// It never blocks the caller on task work.
	Go(ctx context.Context, name string, task Task) bool
}

// run executes task with a detached, time-bounded context and recovers panics
func run(ctx context.Context, name string, timeout time.Duration, task Task) {
	taskCtx := context.WithoutCancel(ctx)
	if timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(taskCtx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Log.WithFields(logrus.Fields{
				"task":    name,
				"recover": r,
				"stack":   string(debug.Stack()),
			}).Error("Background task panicked")
		}
	}()

	task(taskCtx)
}
