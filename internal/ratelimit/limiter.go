package ratelimit

import (
	"context"
	"sync"
	"time"

	"portfolio-chat/internal/logger"

	"github.com/sirupsen/logrus"
)

// Limiter allows at most Max requests per client within each fixed Window.
// The window starts at a client's first request and is not sliding.
type Limiter struct {
	store  Store
	window time.Duration
	max    int
	now    func() time.Time

	mu sync.Mutex
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// NewLimiter creates a Limiter over store
func NewLimiter(store Store, window time.Duration, max int, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		window: window,
		max:    max,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request from clientID and reports whether it is within the
// limit. Store failures fail open.
func (l *Limiter) Allow(ctx context.Context, clientID string) bool {
	now := l.now()

	if atomic, ok := l.store.(AtomicStore); ok {
		allowed, err := atomic.Hit(ctx, clientID, now, l.window, l.max)
		if err != nil {
			l.logStoreError(err, clientID)
			return true
		}
		return allowed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	allowed, err := l.allow(ctx, clientID, now)
	if err != nil {
		l.logStoreError(err, clientID)
		return true
	}
	return allowed
}

func (l *Limiter) allow(ctx context.Context, clientID string, now time.Time) (bool, error) {
	rec, ok, err := l.store.Get(ctx, clientID)
	if err != nil {
		return false, err
	}

	if !ok || rec.Expired(now) {
		return true, l.store.Set(ctx, clientID, Record{Count: 1, ResetAt: now.Add(l.window)})
	}

	if rec.Count >= l.max {
		return false, nil
	}

	_, err = l.store.Increment(ctx, clientID)
	return err == nil, err
}

// Sweep drops expired records when the store needs it
func (l *Limiter) Sweep() int {
	sweeper, ok := l.store.(Sweeper)
	if !ok {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := sweeper.Sweep(l.now())
	if removed > 0 {
		logger.Log.WithField("removed", removed).Debug("Swept expired rate limit records")
	}
	return removed
}

func (l *Limiter) logStoreError(err error, clientID string) {
	logger.Log.WithError(err).WithFields(logrus.Fields{
		"client": clientID,
	}).Warn("Rate limit store failed, allowing request")
}
