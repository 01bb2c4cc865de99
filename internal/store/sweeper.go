package store

import (
	"context"
	"fmt"
	"time"

	"github.com/semantis-ai/semcache/internal/logging"
	"github.com/semantis-ai/semcache/internal/metrics"
)

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Evicted  int
	Extended int
}

// Sweep runs one TTL pass: entries past their expiry are deleted from the
// store and both indexes; entries accessed at least the popularity threshold
// number of times since the previous sweep have their expiry extended.
// Sweeping twice without intervening accesses is a no-op the second time.
func (s *Store) Sweep() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var stats SweepStats
	var expired []string
	for id, e := range s.entries {
		if !e.fresh(now) {
			expired = append(expired, id)
			continue
		}
		if e.AccessCount-e.sweepMark >= int64(s.cfg.PopularityThreshold) {
			e.ExpiresAt = now.Add(s.cfg.ExtendedTTL)
			stats.Extended++
		}
		e.sweepMark = e.AccessCount
	}
	for _, id := range expired {
		s.removeLocked(id)
	}
	stats.Evicted = len(expired)
	metrics.SweeperEvictions.Add(float64(stats.Evicted))
	return stats
}

// StartSweeper runs Sweep every interval until ctx is cancelled. The loop
// takes the same mutation guard as the request path, so no separate lock
// discipline applies to background eviction.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("StartSweeper: interval must be greater than zero, got %v", interval)
	}
	log := logging.FromContext(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := s.Sweep()
				if stats.Evicted > 0 || stats.Extended > 0 {
					log.Info("ttl sweep completed",
						"evicted", stats.Evicted,
						"extended", stats.Extended,
						"entries", s.Len(),
					)
				}
			}
		}
	}()
	return nil
}
