// Package index holds the two lookup structures backing the cache store:
// an exact-match hash index and a cosine-similarity semantic index, both
// scoped per (tenant, model) so lookups never cross a tenant namespace.
//
// Neither structure synchronizes itself; the store mutates and reads both
// under its own mutation guard so an entry is never visible in the store but
// absent from its index, or vice versa.
package index

// ExactKey identifies one exact-match cache slot.
type ExactKey struct {
	Tenant string
	Model  string
	Hash   string
}

// Exact maps (tenant, model, prompt hash) to a cache entry ID in O(1).
type Exact struct {
	entries map[ExactKey]string
}

// NewExact creates an empty exact-match index.
func NewExact() *Exact {
	return &Exact{entries: make(map[ExactKey]string)}
}

// Lookup returns the entry ID stored for key.
func (e *Exact) Lookup(key ExactKey) (string, bool) {
	id, ok := e.entries[key]
	return id, ok
}

// Insert stores the entry ID for key, replacing any previous occupant.
func (e *Exact) Insert(key ExactKey, entryID string) {
	e.entries[key] = entryID
}

// Remove deletes the slot for key if it is held by entryID. The ID check
// keeps a replaced entry's deferred eviction from clobbering its successor.
func (e *Exact) Remove(key ExactKey, entryID string) {
	if e.entries[key] == entryID {
		delete(e.entries, key)
	}
}

// Len returns the number of occupied slots.
func (e *Exact) Len() int { return len(e.entries) }
