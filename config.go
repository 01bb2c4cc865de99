package semcache

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy selects which cache checks run per request.
type Strategy string

// Strategy constants define the supported lookup strategies.
const (
	// StrategyExact runs only the exact-match check.
	StrategyExact Strategy = "exact"
	// StrategySemantic runs only the semantic check.
	StrategySemantic Strategy = "semantic"
	// StrategyHybrid runs the exact check first, then the semantic check.
	StrategyHybrid Strategy = "hybrid"
)

// Engine defaults.
const (
	DefaultSimilarityThreshold = 0.83
	DefaultTemperatureBucket   = 0.1
	DefaultSweepInterval       = time.Minute
	DefaultEventBuffer         = 1024
)

// Config holds the full configuration for the cache engine and server.
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Upstream UpstreamConfig `json:"upstream" yaml:"upstream"`
	Tenants  TenantConfig   `json:"tenants" yaml:"tenants"`
	Events   EventsConfig   `json:"events,omitempty" yaml:"events,omitempty"`
	Logging  LoggingConfig  `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr" yaml:"addr"`
	// AdminToken guards the /admin endpoints. Empty disables them.
	AdminToken string `json:"admin_token,omitempty" yaml:"admin_token,omitempty"`
}

// CacheConfig tunes the decision policy and TTL behavior.
type CacheConfig struct {
	// Strategy is exact, semantic, or hybrid (the default).
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	// SimilarityThreshold is the minimum cosine similarity for a semantic
	// hit. Must lie in [0.5, 1.0]; a candidate at exactly the threshold
	// is a hit.
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	// AdaptiveThreshold lets the engine nudge each tenant's effective
	// threshold based on observed hit ratios.
	AdaptiveThreshold bool `json:"adaptive_threshold,omitempty" yaml:"adaptive_threshold,omitempty"`
	// TemperatureBucket is the quantization granularity for the request
	// temperature when deriving cache keys.
	TemperatureBucket float64 `json:"temperature_bucket,omitempty" yaml:"temperature_bucket,omitempty"`
	// BaseTTL is the lifetime of a fresh entry.
	BaseTTL Duration `json:"base_ttl,omitempty" yaml:"base_ttl,omitempty"`
	// ExtendedTTL replaces BaseTTL for entries that stay popular.
	ExtendedTTL Duration `json:"extended_ttl,omitempty" yaml:"extended_ttl,omitempty"`
	// PopularityThreshold is the number of accesses between sweeps that
	// qualifies an entry for the extended TTL.
	PopularityThreshold int `json:"popularity_threshold,omitempty" yaml:"popularity_threshold,omitempty"`
	// SweepInterval is the period of the background TTL sweeper.
	SweepInterval Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`
}

// UpstreamConfig configures the LLM provider called on cache misses.
type UpstreamConfig struct {
	// Provider names the backend. Only "openai" is supported.
	Provider string `json:"provider" yaml:"provider"`
	// APIKey authenticates against the provider. Falls back to the
	// provider's environment variable when empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// BaseURL overrides the provider endpoint (proxies, test servers).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// EmbeddingModel overrides the embedding model used for semantic keys.
	EmbeddingModel string `json:"embedding_model,omitempty" yaml:"embedding_model,omitempty"`
	// Timeout bounds each individual upstream attempt.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Retry   RetryConfig   `json:"retry,omitempty" yaml:"retry,omitempty"`
	Breaker BreakerConfig `json:"circuit_breaker,omitempty" yaml:"circuit_breaker,omitempty"`
}

// RetryConfig bounds the retry loop for transient upstream failures.
type RetryConfig struct {
	Attempts  int      `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	BaseDelay Duration `json:"base_delay,omitempty" yaml:"base_delay,omitempty"`
	MaxDelay  Duration `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `json:"failure_threshold,omitempty" yaml:"failure_threshold,omitempty"`
	SuccessThreshold int      `json:"success_threshold,omitempty" yaml:"success_threshold,omitempty"`
	Cooldown         Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
}

// TenantConfig selects the tenant registry backend.
type TenantConfig struct {
	// Backend is memory, sqlite, or postgres.
	Backend string `json:"backend" yaml:"backend"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// EventsConfig tunes decision-event recording.
type EventsConfig struct {
	// Buffer is the ring-buffer capacity for recent events.
	Buffer int `json:"buffer,omitempty" yaml:"buffer,omitempty"`
	// Backend optionally mirrors events to durable storage:
	// none (default), sqlite, or postgres.
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`
	DSN     string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `json:"level,omitempty" yaml:"level,omitempty"`
	// Format is json or text.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// applyDefaults fills zero values in place.
func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Cache.Strategy == "" {
		c.Cache.Strategy = StrategyHybrid
	}
	if c.Cache.SimilarityThreshold == 0 {
		c.Cache.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if c.Cache.TemperatureBucket == 0 {
		c.Cache.TemperatureBucket = DefaultTemperatureBucket
	}
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = Duration(DefaultSweepInterval)
	}
	if c.Upstream.Provider == "" {
		c.Upstream.Provider = "openai"
	}
	if c.Tenants.Backend == "" {
		c.Tenants.Backend = "memory"
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = DefaultEventBuffer
	}
	if c.Events.Backend == "" {
		c.Events.Backend = "none"
	}
}

// Validate checks the configuration after defaults are applied. Every
// failure wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.Cache.Strategy {
	case StrategyExact, StrategySemantic, StrategyHybrid:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Cache.Strategy)
	}

	if t := c.Cache.SimilarityThreshold; t < 0.5 || t > 1.0 {
		return fmt.Errorf("%w: similarity_threshold %v outside [0.5, 1.0]", ErrInvalidConfig, t)
	}
	if b := c.Cache.TemperatureBucket; b < 0 || b > 1 {
		return fmt.Errorf("%w: temperature_bucket %v outside (0, 1]", ErrInvalidConfig, b)
	}
	if c.Cache.BaseTTL < 0 || c.Cache.ExtendedTTL < 0 {
		return fmt.Errorf("%w: TTLs must not be negative", ErrInvalidConfig)
	}
	if c.Cache.BaseTTL > 0 && c.Cache.ExtendedTTL > 0 && c.Cache.ExtendedTTL < c.Cache.BaseTTL {
		return fmt.Errorf("%w: extended_ttl must not be shorter than base_ttl", ErrInvalidConfig)
	}
	if c.Cache.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep_interval must not be negative", ErrInvalidConfig)
	}

	if c.Upstream.Provider != "openai" {
		return fmt.Errorf("%w: unsupported upstream provider %q", ErrInvalidConfig, c.Upstream.Provider)
	}
	if c.Upstream.Retry.Attempts < 0 {
		return fmt.Errorf("%w: retry attempts must not be negative", ErrInvalidConfig)
	}

	switch c.Tenants.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.Tenants.DSN == "" {
			return fmt.Errorf("%w: tenants.dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown tenants backend %q", ErrInvalidConfig, c.Tenants.Backend)
	}

	switch c.Events.Backend {
	case "none", "sqlite":
	case "postgres":
		if c.Events.DSN == "" {
			return fmt.Errorf("%w: events.dsn is required for the postgres backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown events backend %q", ErrInvalidConfig, c.Events.Backend)
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}

	return nil
}

// Duration wraps time.Duration so config files can write "250ms" or "30s".
// time.ParseDuration has no day unit; long TTLs are written in hours
// ("168h" for seven days).
type Duration time.Duration

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses either a duration string ("30s") or an integer
// number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parsing duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// UnmarshalJSON parses either a duration string or integer seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("parsing duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds")
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
