// Package semcache implements a hybrid semantic cache for LLM chat
// completions. Incoming requests are normalized into cache keys, matched
// first byte-for-byte and then by embedding similarity, and only forwarded
// upstream on a miss. Concurrent misses for the same key share one upstream
// call.
package semcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/semantis-ai/semcache/internal/events"
	"github.com/semantis-ai/semcache/internal/inflight"
	"github.com/semantis-ai/semcache/internal/logging"
	"github.com/semantis-ai/semcache/internal/metrics"
	"github.com/semantis-ai/semcache/internal/normalize"
	"github.com/semantis-ai/semcache/internal/store"
	"github.com/semantis-ai/semcache/internal/tenant"
	"github.com/semantis-ai/semcache/upstream"
)

// Meta describes how a request was served. It is attached to every
// completion response. Hit carries the decision enum "exact", "semantic"
// or "miss".
type Meta struct {
	Hit        string  `json:"hit"`
	Similarity float64 `json:"similarity"`
	LatencyMS  float64 `json:"latency_ms"`
	Strategy   string  `json:"strategy"`
	CacheKey   string  `json:"cache_key"`
}

// Cached reports whether the response was served from the cache.
func (m Meta) Cached() bool { return m.Hit != string(events.DecisionMiss) }

// Result is a served completion plus its cache metadata.
type Result struct {
	Response *upstream.Response `json:"response"`
	Meta     Meta               `json:"meta"`
}

// Engine is the cache decision engine. Construct with NewEngine; all
// methods are safe for concurrent use.
type Engine struct {
	cfg        Config
	log        *slog.Logger
	normalizer *normalize.Normalizer
	store      *store.Store
	provider   upstream.Provider
	embedder   upstream.Embedder
	recorder   *events.Recorder
	adaptive   *thresholdController
	inflight   inflight.Group
}

// EngineOption customizes an Engine at construction time.
type EngineOption func(*Engine)

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) { e.log = log }
}

// WithRecorder replaces the default event recorder, e.g. to attach a
// durable writer.
func WithRecorder(rec *events.Recorder) EngineOption {
	return func(e *Engine) { e.recorder = rec }
}

// NewEngine builds an Engine from a validated config and an upstream
// provider. Semantic and hybrid strategies require the provider to also
// implement upstream.Embedder.
func NewEngine(cfg Config, provider upstream.Provider, opts ...EngineOption) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: upstream provider is required", ErrInvalidConfig)
	}

	e := &Engine{
		cfg:        cfg,
		log:        slog.Default(),
		provider:   provider,
		normalizer: normalize.New(cfg.Cache.TemperatureBucket, provider.SupportsModel),
		store: store.New(store.Config{
			BaseTTL:             cfg.Cache.BaseTTL.Std(),
			ExtendedTTL:         cfg.Cache.ExtendedTTL.Std(),
			PopularityThreshold: cfg.Cache.PopularityThreshold,
		}),
		recorder: events.NewRecorder(cfg.Events.Buffer),
	}
	if emb, ok := provider.(upstream.Embedder); ok {
		e.embedder = emb
	}
	if e.embedder == nil && cfg.Cache.Strategy != StrategyExact {
		return nil, fmt.Errorf("%w: strategy %q requires an embedding-capable provider", ErrInvalidConfig, cfg.Cache.Strategy)
	}
	if cfg.Cache.AdaptiveThreshold {
		e.adaptive = newThresholdController(cfg.Cache.SimilarityThreshold)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Store exposes the cache store for stats and administration.
func (e *Engine) Store() *store.Store { return e.store }

// Recorder exposes the decision-event recorder.
func (e *Engine) Recorder() *events.Recorder { return e.recorder }

// Strategy returns the configured lookup strategy.
func (e *Engine) Strategy() Strategy { return e.cfg.Cache.Strategy }

// StartSweeper launches the background TTL sweeper.
func (e *Engine) StartSweeper(ctx context.Context) error {
	return e.store.StartSweeper(ctx, e.cfg.Cache.SweepInterval.Std())
}

// ThresholdFor returns the semantic threshold effective for a tenant:
// the tenant's explicit override when set, otherwise the adaptive value
// when adaptation is enabled, otherwise the configured default.
func (e *Engine) ThresholdFor(tn *tenant.Tenant) float64 {
	if tn != nil && tn.SimilarityThreshold != 0 {
		return tn.SimilarityThreshold
	}
	if e.adaptive != nil && tn != nil {
		return e.adaptive.threshold(tn.ID)
	}
	return e.cfg.Cache.SimilarityThreshold
}

// Execute serves one chat completion through the cache. tn scopes every
// lookup and write; nil falls back to a shared anonymous tenant.
//
// The decision order under the hybrid strategy is exact check, then
// semantic check, then upstream. A semantic candidate at exactly the
// threshold is a hit. When embedding fails the request degrades to a
// forced miss and the resulting entry is served for exact matches only.
func (e *Engine) Execute(ctx context.Context, tn *tenant.Tenant, req upstream.Request) (*Result, error) {
	start := time.Now()
	if tn == nil {
		tn = &tenant.Tenant{ID: "default"}
	}
	log := logging.FromContext(ctx)

	if err := req.Validate(); err != nil {
		metrics.RequestsTotal.WithLabelValues(tn.ID, "rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	key, err := e.normalizer.Normalize(req)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(tn.ID, "rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	strategy := e.cfg.Cache.Strategy

	// Exact check. An exact hit always wins; no embedding call is needed.
	if strategy != StrategySemantic {
		if entry, ok := e.store.LookupExact(tn.ID, key.Model, key.PromptHash); ok {
			e.store.Touch(entry.ID)
			return e.finish(ctx, tn, key, entry.Response, events.DecisionExactHit, 1.0, start), nil
		}
	}

	// Semantic check.
	var vec []float64
	if strategy != StrategyExact {
		threshold := e.ThresholdFor(tn)
		v, embErr := e.embedder.Embed(ctx, key.EmbeddingInput)
		if embErr != nil {
			log.Warn("embedding failed, degrading to miss",
				"tenant", tn.ID,
				"error", embErr,
			)
		} else {
			vec = v
			if results := e.store.Search(tn.ID, key.Model, vec, 1); len(results) > 0 {
				best := results[0]
				metrics.Similarity.Observe(best.Similarity)
				if best.Similarity >= threshold {
					e.store.Touch(best.Entry.ID)
					return e.finish(ctx, tn, key, best.Entry.Response, events.DecisionSemanticHit, best.Similarity, start), nil
				}
			}
		}
	}

	// Miss: go upstream, deduplicating concurrent calls for the same key.
	// The leader writes the cache entry so every waiter finds it next time.
	flightKey := tn.ID + "|" + key.Model + "|" + key.PromptHash
	resp, shared, err := e.inflight.Do(ctx, flightKey, func(callCtx context.Context) (*upstream.Response, error) {
		r, callErr := e.provider.Complete(callCtx, req)
		if callErr != nil {
			return nil, callErr
		}
		entry := &store.Entry{
			Tenant:     tn.ID,
			Model:      key.Model,
			PromptHash: key.PromptHash,
			Embedding:  vec,
			Response:   r,
		}
		if putErr := e.store.Put(entry); putErr != nil {
			// The response is already in hand; a failed write only costs
			// a future hit.
			logging.FromContext(callCtx).Warn("cache write failed after upstream success",
				"tenant", tn.ID,
				"error", putErr,
			)
		}
		return r, nil
	})
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(tn.ID, "error").Inc()
		return nil, err
	}
	if shared {
		log.Debug("joined in-flight upstream call", "key", key.PromptHash)
	}
	return e.finish(ctx, tn, key, resp, events.DecisionMiss, 0, start), nil
}

// finish records metrics and the decision event, then assembles the result.
func (e *Engine) finish(ctx context.Context, tn *tenant.Tenant, key normalize.Key, resp *upstream.Response, decision events.Decision, similarity float64, start time.Time) *Result {
	latency := time.Since(start)
	hit := decision != events.DecisionMiss

	metrics.RequestsTotal.WithLabelValues(tn.ID, string(decision)).Inc()
	metrics.RequestDuration.WithLabelValues(string(decision)).Observe(latency.Seconds())

	var tokensSaved int64
	if hit && resp != nil {
		tokensSaved = int64(resp.Usage.TotalTokens)
		metrics.TokensSaved.WithLabelValues(tn.ID).Add(float64(tokensSaved))
	}

	e.recorder.Record(ctx, events.Event{
		Tenant:      tn.ID,
		Model:       key.Model,
		PromptHash:  key.PromptHash,
		Decision:    decision,
		Similarity:  similarity,
		LatencyMS:   float64(latency.Microseconds()) / 1000,
		TokensSaved: tokensSaved,
	})
	if e.adaptive != nil {
		e.adaptive.observe(tn.ID, hit)
	}

	return &Result{
		Response: resp,
		Meta: Meta{
			Hit:        string(decision),
			Similarity: similarity,
			LatencyMS:  float64(latency.Microseconds()) / 1000,
			Strategy:   string(e.cfg.Cache.Strategy),
			CacheKey:   key.PromptHash,
		},
	}
}
