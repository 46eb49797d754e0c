// Package convstate provides the stale-state sweeper for PolicyPal.
package convstate

import (
	"context"
	"log/slog"
	"time"
)

// Sweep removes entries whose last activity predates the idle timeout and
// returns the number of entries removed. Entries with an in-flight turn are
// skipped and picked up on a later pass; a turn refreshes the last-activity
// timestamp on every state read or write, so an active conversation is never
// evicted mid-flow.
func (s *MemoryStore) Sweep() int {
	cutoff := s.now().Add(-s.idleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.entries {
		l := s.locks[id]
		if l != nil && !l.mu.TryLock() {
			continue // turn in flight
		}
		e.mu.Lock()
		stale := e.lastActivity.Before(cutoff)
		e.mu.Unlock()
		if stale {
			delete(s.entries, id)
			delete(s.locks, id)
			removed++
			slog.Debug("convstate: swept stale entry", "conversationID", id)
		}
		if l != nil {
			l.mu.Unlock()
		}
	}
	if removed > 0 {
		slog.Info("convstate: sweep completed", "removed", removed, "remaining", len(s.entries))
	}
	return removed
}

// StartSweeper runs Sweep on a fixed interval until the context is cancelled.
// A non-positive interval falls back to DefaultSweepInterval.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	slog.Info("convstate: starting sweeper", "interval", interval, "idleTimeout", s.idleTimeout)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				slog.Debug("convstate: sweeper stopping")
				return
			}
		}
	}()
}
