package background

import (
	"context"
	"sync"
	"time"
)

var _ Dispatcher = (*Group)(nil)

// Group tracks the tasks of a single request so a short-lived runtime can
// wait for them before it exits.
type Group struct {
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewGroup creates an empty Group
func NewGroup(timeout time.Duration) *Group {
	return &Group{timeout: timeout}
}

// Go starts task on its own goroutine
func (g *Group) Go(ctx context.Context, name string, task Task) bool {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		run(ctx, name, g.timeout, task)
	}()
	return true
}

// Wait blocks until every task started so far has returned
func (g *Group) Wait() {
	g.wg.Wait()
}
