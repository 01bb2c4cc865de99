package semcache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/semantis-ai/semcache/internal/tenant"
	"github.com/semantis-ai/semcache/upstream"
)

// mockProvider is an embedding-capable provider with deterministic vectors.
type mockProvider struct {
	mu          sync.Mutex
	completions int
	embeds      int
	embedFn     func(input string) ([]float64, error)
	completeFn  func(req upstream.Request) (*upstream.Response, error)
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) SupportsModel(model string) bool { return model != "unknown-model" }

func (m *mockProvider) Complete(_ context.Context, req upstream.Request) (*upstream.Response, error) {
	m.mu.Lock()
	m.completions++
	m.mu.Unlock()
	if m.completeFn != nil {
		return m.completeFn(req)
	}
	return &upstream.Response{
		ID:    "resp-1",
		Model: req.Model,
		Choices: []upstream.Choice{
			{Message: upstream.Message{Role: upstream.RoleAssistant, Content: "answer"}, FinishReason: "stop"},
		},
		Usage: upstream.Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

func (m *mockProvider) Embed(_ context.Context, input string) ([]float64, error) {
	m.mu.Lock()
	m.embeds++
	m.mu.Unlock()
	if m.embedFn != nil {
		return m.embedFn(input)
	}
	return []float64{1, 0}, nil
}

func (m *mockProvider) calls() (completions, embeds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completions, m.embeds
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Cache.SimilarityThreshold = 0.8
	return cfg
}

func newTestEngine(t *testing.T, cfg Config, p upstream.Provider) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, p)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

func chatReq(content string) upstream.Request {
	return upstream.Request{
		Model:    "gpt-4o-mini",
		Messages: []upstream.Message{{Role: upstream.RoleUser, Content: content}},
	}
}

func TestExecute_MissThenExactHit(t *testing.T) {
	p := &mockProvider{}
	e := newTestEngine(t, testConfig(), p)
	tn := &tenant.Tenant{ID: "acme"}

	first, err := e.Execute(context.Background(), tn, chatReq("what is the capital of France?"))
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if first.Meta.Hit != "miss" {
		t.Fatal("cold cache must miss")
	}

	// Cosmetic differences normalize to the same key.
	second, err := e.Execute(context.Background(), tn, chatReq("  What is the   capital of FRANCE?"))
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if second.Meta.Hit != "exact" || second.Meta.Similarity != 1.0 {
		t.Fatalf("expected exact hit with similarity 1.0, got %+v", second.Meta)
	}
	if second.Response.ID != first.Response.ID {
		t.Error("hit must serve the cached response")
	}
	if completions, _ := p.calls(); completions != 1 {
		t.Errorf("upstream called %d times, want 1", completions)
	}
	if second.Meta.CacheKey != first.Meta.CacheKey {
		t.Error("both requests must share a cache key")
	}
	if second.Meta.Strategy != "hybrid" {
		t.Errorf("strategy tag %q, want hybrid", second.Meta.Strategy)
	}
}

func TestExecute_SemanticHitAtThresholdBoundary(t *testing.T) {
	// Threshold 0.8; the second prompt's vector has cosine exactly 0.8
	// against the first. The boundary is inclusive.
	vectors := map[string][]float64{
		"capital of france": {1, 0},
		"france's capital":  {0.8, 0.6},
	}
	p := &mockProvider{embedFn: func(input string) ([]float64, error) {
		return vectors[input], nil
	}}
	e := newTestEngine(t, testConfig(), p)
	tn := &tenant.Tenant{ID: "acme"}

	if _, err := e.Execute(context.Background(), tn, chatReq("capital of France")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), tn, chatReq("France's capital"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.Hit != "semantic" {
		t.Fatalf("similarity at the threshold must hit semantically: %+v", res.Meta)
	}
	if res.Meta.Similarity < 0.799 || res.Meta.Similarity > 0.801 {
		t.Errorf("similarity %v, want ~0.8", res.Meta.Similarity)
	}
	if completions, _ := p.calls(); completions != 1 {
		t.Errorf("upstream called %d times, want 1", completions)
	}
}

func TestExecute_BelowThresholdMisses(t *testing.T) {
	vectors := map[string][]float64{
		"capital of france":   {1, 0},
		"best pizza toppings": {0.1, 0.99},
	}
	p := &mockProvider{embedFn: func(input string) ([]float64, error) {
		return vectors[input], nil
	}}
	e := newTestEngine(t, testConfig(), p)
	tn := &tenant.Tenant{ID: "acme"}

	if _, err := e.Execute(context.Background(), tn, chatReq("capital of France")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), tn, chatReq("best pizza toppings"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.Hit != "miss" {
		t.Fatalf("dissimilar prompt must miss: %+v", res.Meta)
	}
	if completions, _ := p.calls(); completions != 2 {
		t.Errorf("upstream called %d times, want 2", completions)
	}
}

func TestExecute_ExactStrategySkipsEmbedding(t *testing.T) {
	p := &mockProvider{}
	cfg := testConfig()
	cfg.Cache.Strategy = StrategyExact
	e := newTestEngine(t, cfg, p)
	tn := &tenant.Tenant{ID: "acme"}

	if _, err := e.Execute(context.Background(), tn, chatReq("hello")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), tn, chatReq("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.Hit != "exact" {
		t.Fatal("identical request must exact-hit")
	}
	if _, embeds := p.calls(); embeds != 0 {
		t.Errorf("exact strategy made %d embedding calls, want 0", embeds)
	}
}

func TestExecute_SemanticStrategySkipsExactCheck(t *testing.T) {
	p := &mockProvider{}
	cfg := testConfig()
	cfg.Cache.Strategy = StrategySemantic
	e := newTestEngine(t, cfg, p)
	tn := &tenant.Tenant{ID: "acme"}

	if _, err := e.Execute(context.Background(), tn, chatReq("hello")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), tn, chatReq("hello"))
	if err != nil {
		t.Fatal(err)
	}
	// The identical prompt embeds to the identical vector, so it hits
	// semantically with similarity 1.0.
	if res.Meta.Hit != "semantic" || res.Meta.Similarity != 1.0 {
		t.Fatalf("expected semantic hit at 1.0, got %+v", res.Meta)
	}
	if e.Recorder().Stats().SemanticHits != 1 {
		t.Error("hit must be recorded as semantic under the semantic strategy")
	}
}

func TestExecute_InvalidRequests(t *testing.T) {
	p := &mockProvider{}
	e := newTestEngine(t, testConfig(), p)
	tn := &tenant.Tenant{ID: "acme"}

	_, err := e.Execute(context.Background(), tn, upstream.Request{Model: "gpt-4o-mini"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty messages: got %v, want ErrInvalidRequest", err)
	}

	req := chatReq("hello")
	req.Model = "unknown-model"
	if _, err := e.Execute(context.Background(), tn, req); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("unknown model: got %v, want ErrInvalidRequest", err)
	}
	if completions, _ := p.calls(); completions != 0 {
		t.Error("invalid requests must never reach upstream")
	}
}

func TestExecute_EmbeddingFailureDegradesToMiss(t *testing.T) {
	embedErr := errors.New("embedding backend down")
	failEmbeds := true
	p := &mockProvider{}
	p.embedFn = func(string) ([]float64, error) {
		if failEmbeds {
			return nil, embedErr
		}
		return []float64{1, 0}, nil
	}
	e := newTestEngine(t, testConfig(), p)
	tn := &tenant.Tenant{ID: "acme"}

	res, err := e.Execute(context.Background(), tn, chatReq("hello"))
	if err != nil {
		t.Fatalf("embedding failure must not fail the request: %v", err)
	}
	if res.Meta.Hit != "miss" {
		t.Fatal("degraded request must be a miss")
	}

	// The entry was cached without an embedding: exact lookups work,
	// semantic lookups cannot find it.
	exact, err := e.Execute(context.Background(), tn, chatReq("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if exact.Meta.Hit != "exact" || exact.Meta.Similarity != 1.0 {
		t.Fatalf("expected exact hit after degraded write, got %+v", exact.Meta)
	}

	failEmbeds = false
	semantic, err := e.Execute(context.Background(), tn, chatReq("hello there friend"))
	if err != nil {
		t.Fatal(err)
	}
	if semantic.Meta.Hit != "miss" {
		t.Fatal("entry written without embedding must not hit semantically")
	}
}

func TestExecute_CacheWriteFailureIsSwallowed(t *testing.T) {
	// The first entry fixes the namespace at two dimensions; the second
	// write arrives with three and is rejected by the semantic index.
	dims := [][]float64{{1, 0}, {1, 0, 0}}
	var call int
	p := &mockProvider{}
	p.embedFn = func(string) ([]float64, error) {
		v := dims[call%len(dims)]
		call++
		return v, nil
	}
	e := newTestEngine(t, testConfig(), p)
	tn := &tenant.Tenant{ID: "acme"}

	if _, err := e.Execute(context.Background(), tn, chatReq("first prompt")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), tn, chatReq("second prompt"))
	if err != nil {
		t.Fatalf("rejected index write must not fail the request: %v", err)
	}
	if res.Meta.Hit != "miss" {
		t.Fatal("second prompt should miss")
	}

	// The rejected entry still serves exact matches.
	exact, err := e.Execute(context.Background(), tn, chatReq("second prompt"))
	if err != nil {
		t.Fatal(err)
	}
	if exact.Meta.Hit != "exact" {
		t.Fatal("entry must be served for exact matches despite the index rejection")
	}
}

func TestExecute_TenantIsolation(t *testing.T) {
	p := &mockProvider{}
	e := newTestEngine(t, testConfig(), p)

	if _, err := e.Execute(context.Background(), &tenant.Tenant{ID: "acme"}, chatReq("hello")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), &tenant.Tenant{ID: "beta"}, chatReq("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.Hit != "miss" {
		t.Fatal("one tenant's entries must be invisible to another")
	}
	if completions, _ := p.calls(); completions != 2 {
		t.Errorf("upstream called %d times, want 2", completions)
	}
}

func TestExecute_TenantThresholdOverride(t *testing.T) {
	vectors := map[string][]float64{
		"capital of france": {1, 0},
		"france's capital":  {0.8, 0.6}, // cosine 0.8 against the first
	}
	p := &mockProvider{embedFn: func(input string) ([]float64, error) {
		return vectors[input], nil
	}}
	e := newTestEngine(t, testConfig(), p)
	// Stricter than the 0.8 config default: the 0.8-similarity candidate
	// must now miss.
	tn := &tenant.Tenant{ID: "acme", SimilarityThreshold: 0.9}

	if _, err := e.Execute(context.Background(), tn, chatReq("capital of France")); err != nil {
		t.Fatal(err)
	}
	res, err := e.Execute(context.Background(), tn, chatReq("France's capital"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Meta.Hit != "miss" {
		t.Fatalf("candidate below the tenant override must miss: %+v", res.Meta)
	}
}

func TestExecute_RecordsDecisionEvents(t *testing.T) {
	p := &mockProvider{}
	e := newTestEngine(t, testConfig(), p)
	tn := &tenant.Tenant{ID: "acme"}

	if _, err := e.Execute(context.Background(), tn, chatReq("hello")); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(context.Background(), tn, chatReq("hello")); err != nil {
		t.Fatal(err)
	}

	stats := e.Recorder().Stats()
	if stats.Total != 2 || stats.ExactHits != 1 || stats.Misses != 1 {
		t.Fatalf("stats %+v, want 1 miss + 1 exact hit", stats)
	}
	if stats.TokensSaved != 30 {
		t.Errorf("tokens saved %d, want the cached response's 30", stats.TokensSaved)
	}

	recent := e.Recorder().Recent(1)
	if len(recent) != 1 || recent[0].Decision != "exact" {
		t.Fatalf("latest event %+v, want an exact decision", recent)
	}
}

func TestExecute_UpstreamFailurePropagates(t *testing.T) {
	boom := &upstream.Error{Provider: "mock", Status: 500, Message: "down", Temporary: true}
	p := &mockProvider{completeFn: func(upstream.Request) (*upstream.Response, error) {
		return nil, boom
	}}
	e := newTestEngine(t, testConfig(), p)

	_, err := e.Execute(context.Background(), &tenant.Tenant{ID: "acme"}, chatReq("hello"))
	var ue *upstream.Error
	if !errors.As(err, &ue) {
		t.Fatalf("got %v, want the upstream error", err)
	}
	// Failures are not cached.
	if e.Store().Len() != 0 {
		t.Error("failed upstream call must not create an entry")
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	p := &mockProvider{}

	cfg := testConfig()
	cfg.Cache.SimilarityThreshold = 0.3
	if _, err := NewEngine(cfg, p); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("threshold 0.3: got %v, want ErrInvalidConfig", err)
	}

	cfg = testConfig()
	cfg.Cache.Strategy = "fuzzy"
	if _, err := NewEngine(cfg, p); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unknown strategy: got %v, want ErrInvalidConfig", err)
	}

	if _, err := NewEngine(testConfig(), nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("nil provider: got %v, want ErrInvalidConfig", err)
	}
}
