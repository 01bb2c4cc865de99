package store

import (
	"testing"
	"time"

	"github.com/semantis-ai/semcache/upstream"
)

func testEntry(tenant, model, hash string, vec []float64) *Entry {
	return &Entry{
		Tenant:     tenant,
		Model:      model,
		PromptHash: hash,
		Embedding:  vec,
		Response:   &upstream.Response{ID: "resp-" + hash, Model: model},
	}
}

func TestPutAndLookupExact(t *testing.T) {
	s := New(Config{})
	e := testEntry("acme", "gpt-4o-mini", "h1", []float64{1, 0})
	if err := s.Put(e); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := s.LookupExact("acme", "gpt-4o-mini", "h1")
	if !ok {
		t.Fatal("expected exact hit")
	}
	if got.Response.ID != "resp-h1" {
		t.Errorf("got response %q", got.Response.ID)
	}
	if _, ok := s.LookupExact("other", "gpt-4o-mini", "h1"); ok {
		t.Fatal("cross-tenant lookup must miss")
	}
}

func TestPutReplacesSameSlot(t *testing.T) {
	s := New(Config{})
	if err := s.Put(testEntry("acme", "m", "h1", []float64{1, 0})); err != nil {
		t.Fatal(err)
	}
	e2 := testEntry("acme", "m", "h1", []float64{0, 1})
	e2.Response = &upstream.Response{ID: "resp-new"}
	if err := s.Put(e2); err != nil {
		t.Fatal(err)
	}

	if s.Len() != 1 {
		t.Fatalf("Len=%d, want 1 after replacement", s.Len())
	}
	got, ok := s.LookupExact("acme", "m", "h1")
	if !ok || got.Response.ID != "resp-new" {
		t.Fatalf("slot not replaced: %+v ok=%v", got.Response, ok)
	}
}

func TestExpiredEntryIsAMiss(t *testing.T) {
	s := New(Config{BaseTTL: time.Millisecond})
	if err := s.Put(testEntry("acme", "m", "h1", []float64{1, 0})); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, ok := s.LookupExact("acme", "m", "h1"); ok {
		t.Fatal("expired entry served as exact hit")
	}
	if got := s.Search("acme", "m", []float64{1, 0}, 1); len(got) != 0 {
		t.Fatalf("expired entry surfaced in semantic search: %v", got)
	}
}

func TestSearchResolvesAndScopes(t *testing.T) {
	s := New(Config{})
	if err := s.Put(testEntry("acme", "m", "h1", []float64{1, 0})); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(testEntry("acme", "m", "h2", []float64{0, 1})); err != nil {
		t.Fatal(err)
	}

	got := s.Search("acme", "m", []float64{1, 0.05}, 1)
	if len(got) != 1 {
		t.Fatalf("got %d results, want 1", len(got))
	}
	if got[0].Entry.PromptHash != "h1" {
		t.Errorf("best match %q, want h1", got[0].Entry.PromptHash)
	}
	if got[0].Similarity <= 0.9 {
		t.Errorf("similarity %f unexpectedly low", got[0].Similarity)
	}
	if res := s.Search("other", "m", []float64{1, 0}, 1); len(res) != 0 {
		t.Fatal("cross-tenant semantic search must return nothing")
	}
}

func TestDeleteRemovesFromAllIndexes(t *testing.T) {
	s := New(Config{})
	e := testEntry("acme", "m", "h1", []float64{1, 0})
	if err := s.Put(e); err != nil {
		t.Fatal(err)
	}

	s.Delete(e.ID)
	if _, ok := s.LookupExact("acme", "m", "h1"); ok {
		t.Fatal("deleted entry still in exact index")
	}
	if got := s.Search("acme", "m", []float64{1, 0}, 1); len(got) != 0 {
		t.Fatalf("deleted entry still in semantic index: %v", got)
	}
	if s.Len() != 0 {
		t.Fatalf("Len=%d, want 0", s.Len())
	}
}

func TestSweepEvictsExpiredOnce(t *testing.T) {
	s := New(Config{BaseTTL: time.Millisecond})
	if err := s.Put(testEntry("acme", "m", "h1", []float64{1, 0})); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)

	first := s.Sweep()
	if first.Evicted != 1 {
		t.Fatalf("first sweep evicted %d, want 1", first.Evicted)
	}
	second := s.Sweep()
	if second.Evicted != 0 {
		t.Fatalf("second sweep evicted %d, want 0 (idempotent)", second.Evicted)
	}
	if s.Len() != 0 {
		t.Fatalf("Len=%d after sweeps, want 0", s.Len())
	}
}

func TestSweepExtendsPopularEntries(t *testing.T) {
	s := New(Config{
		BaseTTL:             time.Hour,
		ExtendedTTL:         48 * time.Hour,
		PopularityThreshold: 3,
	})
	popular := testEntry("acme", "m", "hot", []float64{1, 0})
	quiet := testEntry("acme", "m", "cold", []float64{0, 1})
	if err := s.Put(popular); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(quiet); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		s.Touch(popular.ID)
	}
	s.Touch(quiet.ID)

	stats := s.Sweep()
	if stats.Extended != 1 {
		t.Fatalf("extended %d entries, want 1", stats.Extended)
	}
	hot, _ := s.Get(popular.ID)
	cold, _ := s.Get(quiet.ID)
	baseExpiry := hot.CreatedAt.Add(time.Hour)
	if !hot.ExpiresAt.After(baseExpiry.Add(24 * time.Hour)) {
		t.Errorf("popular entry expiry not extended: %v", hot.ExpiresAt)
	}
	if cold.ExpiresAt.After(cold.CreatedAt.Add(2 * time.Hour)) {
		t.Errorf("quiet entry expiry was extended: %v", cold.ExpiresAt)
	}

	// No new accesses: the next sweep extends nothing.
	if again := s.Sweep(); again.Extended != 0 {
		t.Fatalf("second sweep extended %d, want 0", again.Extended)
	}
}

func TestTouchUpdatesStats(t *testing.T) {
	s := New(Config{})
	e := testEntry("acme", "m", "h1", nil)
	if err := s.Put(e); err != nil {
		t.Fatal(err)
	}
	s.Touch(e.ID)
	s.Touch(e.ID)

	got, _ := s.Get(e.ID)
	if got.AccessCount != 2 {
		t.Errorf("AccessCount=%d, want 2", got.AccessCount)
	}
	if !got.LastAccessedAt.After(got.CreatedAt) && !got.LastAccessedAt.Equal(got.CreatedAt) {
		t.Errorf("LastAccessedAt not refreshed")
	}
}
