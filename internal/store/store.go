// Package store is the durable map behind the cache: entry payloads,
// metadata, TTL state, and access statistics, together with the exact-match
// and semantic indexes that resolve lookups into entries.
//
// The store exclusively owns both indexes and mutates them under a single
// guard, so concurrent readers never observe an entry present in the store
// but missing from an index, or a stale index row pointing at a deleted
// entry.
package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semantis-ai/semcache/internal/index"
	"github.com/semantis-ai/semcache/internal/metrics"
	"github.com/semantis-ai/semcache/upstream"
)

// TTL defaults: new entries live 7 days; popular ones are extended to 30.
const (
	DefaultBaseTTL             = 7 * 24 * time.Hour
	DefaultExtendedTTL         = 30 * 24 * time.Hour
	DefaultPopularityThreshold = 3
)

// Entry is one cached completion.
type Entry struct {
	ID             string
	Tenant         string
	Model          string
	PromptHash     string
	Embedding      []float64
	Response       *upstream.Response
	CreatedAt      time.Time
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64

	// sweepMark is AccessCount as of the previous sweep; the delta decides
	// popularity-based TTL extension.
	sweepMark int64
}

func (e *Entry) fresh(now time.Time) bool { return now.Before(e.ExpiresAt) }

// Config tunes TTL policy. Zero values fall back to the defaults above.
type Config struct {
	BaseTTL             time.Duration
	ExtendedTTL         time.Duration
	PopularityThreshold int
}

// Result is a semantic search hit resolved to its entry.
type Result struct {
	Entry      Entry
	Similarity float64
}

// Store holds all cache entries and their indexes.
type Store struct {
	mu       sync.RWMutex
	cfg      Config
	entries  map[string]*Entry
	exact    *index.Exact
	semantic *index.Semantic
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.BaseTTL <= 0 {
		cfg.BaseTTL = DefaultBaseTTL
	}
	if cfg.ExtendedTTL <= 0 {
		cfg.ExtendedTTL = DefaultExtendedTTL
	}
	if cfg.PopularityThreshold <= 0 {
		cfg.PopularityThreshold = DefaultPopularityThreshold
	}
	return &Store{
		cfg:      cfg,
		entries:  make(map[string]*Entry),
		exact:    index.NewExact(),
		semantic: index.NewSemantic(),
	}
}

// Put inserts a new entry, assigning its ID and TTL window, and registers it
// in the exact index and (when it carries an embedding) the semantic index.
// An existing entry under the same (tenant, model, hash) slot is replaced.
// The returned error reports a semantic-index rejection; the entry is still
// stored and served for exact matches in that case.
func (s *Store) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.ExpiresAt.IsZero() {
		e.ExpiresAt = e.CreatedAt.Add(s.cfg.BaseTTL)
	}
	e.LastAccessedAt = e.CreatedAt

	key := index.ExactKey{Tenant: e.Tenant, Model: e.Model, Hash: e.PromptHash}
	if oldID, ok := s.exact.Lookup(key); ok {
		s.removeLocked(oldID)
	}

	s.entries[e.ID] = e
	s.exact.Insert(key, e.ID)
	metrics.CacheEntries.WithLabelValues(e.Tenant).Inc()

	if len(e.Embedding) == 0 {
		return nil
	}
	return s.semantic.Insert(e.Tenant, e.Model, e.ID, e.Embedding, e.CreatedAt)
}

// LookupExact returns the fresh entry stored under (tenant, model, hash).
// An expired entry counts as a miss; the sweeper reclaims it later.
func (s *Store) LookupExact(tenant, model, hash string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.exact.Lookup(index.ExactKey{Tenant: tenant, Model: model, Hash: hash})
	if !ok {
		return Entry{}, false
	}
	e, ok := s.entries[id]
	if !ok || !e.fresh(time.Now()) {
		return Entry{}, false
	}
	return *e, true
}

// Get returns the entry with the given ID regardless of freshness.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Search runs a semantic lookup scoped to (tenant, model) and resolves the
// matches to fresh entries. Expired entries are filtered out.
func (s *Store) Search(tenant, model string, vec []float64, topK int) []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	matches := s.semantic.Search(tenant, model, vec, topK)
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		e, ok := s.entries[m.EntryID]
		if !ok || !e.fresh(now) {
			continue
		}
		results = append(results, Result{Entry: *e, Similarity: m.Similarity})
	}
	return results
}

// Touch records a hit: bumps the access count and refreshes the last-access
// timestamp.
func (s *Store) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.AccessCount++
		e.LastAccessedAt = time.Now()
	}
}

// Delete removes an entry from the store and both indexes atomically.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// removeLocked must be called with s.mu held for writing.
func (s *Store) removeLocked(id string) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	s.exact.Remove(index.ExactKey{Tenant: e.Tenant, Model: e.Model, Hash: e.PromptHash}, id)
	s.semantic.Remove(e.Tenant, e.Model, id)
	delete(s.entries, id)
	metrics.CacheEntries.WithLabelValues(e.Tenant).Dec()
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// TenantEntryCount returns the number of live entries owned by tenant.
func (s *Store) TenantEntryCount(tenant string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Tenant == tenant {
			n++
		}
	}
	return n
}
