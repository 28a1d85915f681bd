// Package ratelimit implements a fixed-window request counter per client.
package ratelimit

import (
	"context"
	"time"
)

// Record is the window state for one client
type Record struct {
	Count   int
	ResetAt time.Time
}

// Expired reports whether now is past the end of the window
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ResetAt)
}

// Store persists rate-limit records. Implementations need not be atomic
// across calls; the Limiter serializes its own read-modify-write.
type Store interface {
	// Get returns the record for key and whether it exists
	Get(ctx context.Context, key string) (Record, bool, error)
	// Set replaces the record for key
	Set(ctx context.Context, key string, rec Record) error
	// Increment adds one to the count of an existing record and returns it
	Increment(ctx context.Context, key string) (Record, error)
}

// AtomicStore is implemented by stores that can make the whole allow
// decision in one atomic step, e.g. shared stores used by several processes.
type AtomicStore interface {
	Store
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, max int) (bool, error)
}

// Sweeper is implemented by stores that need expired records removed
// explicitly.
type Sweeper interface {
	Sweep(now time.Time) int
}
