// Command semcached runs the semantic cache server: an OpenAI-compatible
// chat completions endpoint backed by the cache engine, plus metrics,
// events, and tenant administration.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	semcache "github.com/semantis-ai/semcache"
	"github.com/semantis-ai/semcache/internal/circuitbreaker"
	"github.com/semantis-ai/semcache/internal/events"
	"github.com/semantis-ai/semcache/internal/logging"
	"github.com/semantis-ai/semcache/internal/tenant"
	"github.com/semantis-ai/semcache/internal/version"
	"github.com/semantis-ai/semcache/upstream"
)

func main() {
	configPath := flag.String("config", os.Getenv("SEMCACHE_CONFIG"), "path to config file (YAML or JSON)")
	flag.Parse()

	var cfg *semcache.Config
	if *configPath != "" {
		loaded, err := semcache.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		defaults := semcache.DefaultConfig()
		cfg = &defaults
		log.Printf("No config file given; using defaults (strategy=%s)", cfg.Cache.Strategy)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	apiKey := cfg.Upstream.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		log.Fatal("No upstream API key configured. Set upstream.api_key or OPENAI_API_KEY")
	}

	provider := buildProvider(cfg, apiKey)
	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Fatalf("Failed to open tenant registry: %v", err)
	}
	recorder, err := buildRecorder(cfg)
	if err != nil {
		log.Fatalf("Failed to open event writer: %v", err)
	}

	engine, err := semcache.NewEngine(*cfg, provider,
		semcache.WithLogger(logging.Logger),
		semcache.WithRecorder(recorder),
	)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	// Graceful shutdown on SIGINT / SIGTERM; the sweeper stops with it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.StartSweeper(ctx); err != nil {
		log.Fatalf("Failed to start TTL sweeper: %v", err)
	}

	s := &server{cfg: cfg, engine: engine, registry: registry}
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("Shutting down gracefully…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
	}()

	log.Printf("semcached %s listening on %s (strategy=%s, threshold=%.2f)",
		version.Short(), cfg.Server.Addr, cfg.Cache.Strategy, cfg.Cache.SimilarityThreshold)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err) //nolint:gocritic
	}
	log.Println("Server stopped.")
}

// buildProvider wires the OpenAI client with retry and a circuit breaker.
func buildProvider(cfg *semcache.Config, apiKey string) upstream.Provider {
	base := upstream.NewOpenAI(apiKey, cfg.Upstream.BaseURL, cfg.Upstream.EmbeddingModel)

	policy := upstream.DefaultRetryPolicy()
	if cfg.Upstream.Retry.Attempts > 0 {
		policy.MaxAttempts = cfg.Upstream.Retry.Attempts
	}
	if cfg.Upstream.Retry.BaseDelay > 0 {
		policy.BaseDelay = cfg.Upstream.Retry.BaseDelay.Std()
	}
	if cfg.Upstream.Retry.MaxDelay > 0 {
		policy.MaxDelay = cfg.Upstream.Retry.MaxDelay.Std()
	}

	breaker := circuitbreaker.New(
		cfg.Upstream.Breaker.FailureThreshold,
		cfg.Upstream.Breaker.SuccessThreshold,
		cfg.Upstream.Breaker.Cooldown.Std(),
	)
	return upstream.NewRetrier(base, policy, breaker, cfg.Upstream.Timeout.Std())
}

func buildRegistry(cfg *semcache.Config) (tenant.Registry, error) {
	switch cfg.Tenants.Backend {
	case "sqlite":
		return tenant.NewSQLiteStore(cfg.Tenants.DSN)
	case "postgres":
		return tenant.NewPostgresStore(cfg.Tenants.DSN)
	default:
		return tenant.NewStore(), nil
	}
}

func buildRecorder(cfg *semcache.Config) (*events.Recorder, error) {
	switch cfg.Events.Backend {
	case "sqlite":
		w, err := events.NewSQLiteWriter(cfg.Events.DSN)
		if err != nil {
			return nil, err
		}
		return events.NewRecorder(cfg.Events.Buffer, events.WithWriter(w)), nil
	case "postgres":
		w, err := events.NewPostgresWriter(cfg.Events.DSN)
		if err != nil {
			return nil, err
		}
		return events.NewRecorder(cfg.Events.Buffer, events.WithWriter(w)), nil
	default:
		return events.NewRecorder(cfg.Events.Buffer), nil
	}
}
