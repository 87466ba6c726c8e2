// Package revocation provides the two RevocationStore implementations named
// in spec.md §4.3: an in-memory, non-persistent store and a SQLite-backed
// persistent one.
package revocation

import (
	"context"
	"sync"
	"time"

	"github.com/jsonapi-go/engine"
)

// MemoryStore is a concurrent-safe, non-persistent RevocationStore (spec.md
// §4.3 option (b); spec.md §5: "the periodic pruner runs as a separate
// scheduled task ... tied to server shutdown").
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]jsonapi.RevocationRecord // keyed by jti
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]jsonapi.RevocationRecord)}
}

func (s *MemoryStore) IsRevoked(ctx context.Context, jti string, now time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[jti]
	if !ok {
		return false, nil
	}
	return rec.ExpiresAt.After(now), nil
}

func (s *MemoryStore) Revoke(ctx context.Context, rec jsonapi.RevocationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[rec.JTI] = rec
	return nil
}

func (s *MemoryStore) Prune(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for jti, rec := range s.rows {
		if !rec.ExpiresAt.After(now) {
			delete(s.rows, jti)
		}
	}
	return nil
}

// RunPruner starts a background goroutine that calls Prune on every tick,
// stopping when ctx is cancelled. Grounded on gandalf's ticker/context
// worker-loop shutdown pattern (internal/worker/runner.go).
func RunPruner(ctx context.Context, store jsonapi.RevocationStore, clock jsonapi.Clock, interval time.Duration) {
	if clock == nil {
		clock = jsonapi.SystemClock{}
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.Prune(ctx, clock.Now())
			}
		}
	}()
}
