// Package events records per-request cache decisions in a bounded ring
// buffer and aggregates them into the stats served by the metrics endpoint.
package events

import (
	"context"
	"sync"
	"time"
)

// Decision labels the outcome of one cache lookup.
type Decision string

// Decision outcomes. The values are the wire enum carried by both the
// events API and the completion response meta.
const (
	DecisionExactHit    Decision = "exact"
	DecisionSemanticHit Decision = "semantic"
	DecisionMiss        Decision = "miss"
)

// Event is one recorded cache decision.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Tenant      string    `json:"tenant"`
	Model       string    `json:"model"`
	PromptHash  string    `json:"prompt_hash"`
	Decision    Decision  `json:"decision"`
	Similarity  float64   `json:"similarity"`
	LatencyMS   float64   `json:"latency_ms"`
	TokensSaved int64     `json:"tokens_saved,omitempty"`
}

// Stats is the aggregate view over every event recorded since startup,
// including those already rotated out of the ring buffer.
type Stats struct {
	Total        int64   `json:"total_requests"`
	ExactHits    int64   `json:"exact_hits"`
	SemanticHits int64   `json:"semantic_hits"`
	Misses       int64   `json:"misses"`
	HitRatio     float64 `json:"hit_ratio"`
	// SemanticShare is the fraction of hits that were semantic.
	SemanticShare float64 `json:"semantic_share"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	TokensSaved   int64   `json:"tokens_saved"`
}

// TenantStats is the per-tenant slice of the aggregates.
type TenantStats struct {
	Tenant string `json:"tenant"`
	Stats
}

// DefaultCapacity bounds the ring buffer when none is configured.
const DefaultCapacity = 1024

// Recorder keeps the last capacity events and running aggregates. An
// optional Writer mirrors every event to durable storage.
type Recorder struct {
	mu       sync.RWMutex
	ring     []Event
	next     int
	filled   bool
	totals   counters
	byTenant map[string]*counters
	writer   Writer
}

type counters struct {
	total        int64
	exact        int64
	semantic     int64
	misses       int64
	latencySumMS float64
	tokensSaved  int64
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithWriter mirrors recorded events to w. Write failures are ignored;
// the in-memory aggregates are the source of truth for the stats API.
func WithWriter(w Writer) Option {
	return func(r *Recorder) { r.writer = w }
}

// NewRecorder creates a recorder holding at most capacity events.
// capacity <= 0 selects DefaultCapacity.
func NewRecorder(capacity int, opts ...Option) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Recorder{
		ring:     make([]Event, capacity),
		byTenant: make(map[string]*counters),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends an event, evicting the oldest once the buffer is full.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	r.mu.Lock()
	r.ring[r.next] = e
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.filled = true
	}
	r.totals.apply(e)
	tc := r.byTenant[e.Tenant]
	if tc == nil {
		tc = &counters{}
		r.byTenant[e.Tenant] = tc
	}
	tc.apply(e)
	w := r.writer
	r.mu.Unlock()

	if w != nil {
		_ = w.Write(ctx, e)
	}
}

func (c *counters) apply(e Event) {
	c.total++
	switch e.Decision {
	case DecisionExactHit:
		c.exact++
	case DecisionSemanticHit:
		c.semantic++
	default:
		c.misses++
	}
	c.latencySumMS += e.LatencyMS
	c.tokensSaved += e.TokensSaved
}

func (c *counters) stats() Stats {
	s := Stats{
		Total:        c.total,
		ExactHits:    c.exact,
		SemanticHits: c.semantic,
		Misses:       c.misses,
		TokensSaved:  c.tokensSaved,
	}
	if c.total > 0 {
		s.HitRatio = float64(c.exact+c.semantic) / float64(c.total)
		s.AvgLatencyMS = c.latencySumMS / float64(c.total)
	}
	if hits := c.exact + c.semantic; hits > 0 {
		s.SemanticShare = float64(c.semantic) / float64(hits)
	}
	return s
}

// Recent returns up to limit events, newest first. limit <= 0 returns
// everything still buffered.
func (r *Recorder) Recent(limit int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.next
	if r.filled {
		n = len(r.ring)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := r.next - 1 - i
		if idx < 0 {
			idx += len(r.ring)
		}
		out = append(out, r.ring[idx])
	}
	return out
}

// Stats returns the global aggregates.
func (r *Recorder) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totals.stats()
}

// TenantStats returns aggregates for one tenant. A tenant with no recorded
// events yields zero stats.
func (r *Recorder) TenantStats(tenant string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.byTenant[tenant]; c != nil {
		return c.stats()
	}
	return Stats{}
}

// AllTenantStats returns per-tenant aggregates for every tenant seen.
func (r *Recorder) AllTenantStats() []TenantStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TenantStats, 0, len(r.byTenant))
	for tenant, c := range r.byTenant {
		out = append(out, TenantStats{Tenant: tenant, Stats: c.stats()})
	}
	return out
}
