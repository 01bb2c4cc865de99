package semcache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfigFile(t, "config.yaml", `
server:
  addr: ":9090"
cache:
  strategy: hybrid
  similarity_threshold: 0.9
  base_ttl: 168h
  extended_ttl: 720h
  sweep_interval: 30s
upstream:
  provider: openai
  timeout: 15s
  retry:
    attempts: 4
    base_delay: 100ms
tenants:
  backend: sqlite
  dsn: /tmp/tenants.db
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr %q", cfg.Server.Addr)
	}
	if cfg.Cache.SimilarityThreshold != 0.9 {
		t.Errorf("threshold %v", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Cache.BaseTTL.Std() != 168*time.Hour {
		t.Errorf("base_ttl %v", cfg.Cache.BaseTTL)
	}
	if cfg.Upstream.Retry.BaseDelay.Std() != 100*time.Millisecond {
		t.Errorf("base_delay %v", cfg.Upstream.Retry.BaseDelay)
	}
	if cfg.Upstream.Timeout.Std() != 15*time.Second {
		t.Errorf("timeout %v", cfg.Upstream.Timeout)
	}
	// Defaults fill the rest.
	if cfg.Events.Buffer != DefaultEventBuffer {
		t.Errorf("event buffer %d", cfg.Events.Buffer)
	}
	if cfg.Cache.TemperatureBucket != DefaultTemperatureBucket {
		t.Errorf("temperature bucket %v", cfg.Cache.TemperatureBucket)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeConfigFile(t, "config.json", `{
  "cache": {"similarity_threshold": 0.83, "sweep_interval": 60},
  "upstream": {"provider": "openai"},
  "tenants": {"backend": "memory"}
}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// Bare numbers are seconds.
	if cfg.Cache.SweepInterval.Std() != time.Minute {
		t.Errorf("sweep_interval %v, want 1m", cfg.Cache.SweepInterval)
	}
	if cfg.Cache.Strategy != StrategyHybrid {
		t.Errorf("strategy defaulted to %q", cfg.Cache.Strategy)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"threshold too low", "cache:\n  similarity_threshold: 0.2\n"},
		{"threshold too high", "cache:\n  similarity_threshold: 1.5\n"},
		{"unknown strategy", "cache:\n  strategy: fuzzy\n"},
		{"extended shorter than base", "cache:\n  base_ttl: 48h\n  extended_ttl: 24h\n"},
		{"unknown tenants backend", "tenants:\n  backend: dynamo\n"},
		{"postgres without dsn", "tenants:\n  backend: postgres\n"},
		{"unknown provider", "upstream:\n  provider: llamafarm\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, "config.yaml", tc.content)
			_, err := LoadConfig(path)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("got %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestLoadConfigUnsupportedExtension(t *testing.T) {
	path := writeConfigFile(t, "config.toml", "whatever")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Cache.SimilarityThreshold != DefaultSimilarityThreshold {
		t.Errorf("threshold %v", cfg.Cache.SimilarityThreshold)
	}
	if cfg.Cache.Strategy != StrategyHybrid {
		t.Errorf("strategy %q", cfg.Cache.Strategy)
	}
}
