package ratelimit

import (
	"context"
	"fmt"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

// MemoryStore keeps records in process memory. It is not shared between
// processes.
type MemoryStore struct {
	records cmap.ConcurrentMap[string, Record]
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: cmap.New[Record]()}
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	rec, ok := s.records.Get(key)
	return rec, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, rec Record) error {
	s.records.Set(key, rec)
	return nil
}

func (s *MemoryStore) Increment(_ context.Context, key string) (Record, error) {
	if !s.records.Has(key) {
		return Record{}, fmt.Errorf("no rate limit record for %q", key)
	}
	// A record swept between Has and Upsert comes back as an already
	// expired window of one.
	return s.records.Upsert(key, Record{Count: 1}, func(exist bool, current, fresh Record) Record {
		if !exist {
			return fresh
		}
		current.Count++
		return current
	}), nil
}

// Sweep removes records whose window has ended and returns how many were removed
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for _, key := range s.records.Keys() {
		if s.records.RemoveCb(key, func(_ string, rec Record, exists bool) bool {
			return exists && rec.Expired(now)
		}) {
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients
func (s *MemoryStore) Len() int {
	return s.records.Count()
}
