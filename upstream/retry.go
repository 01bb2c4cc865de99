package upstream

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/semantis-ai/semcache/internal/circuitbreaker"
	"github.com/semantis-ai/semcache/internal/metrics"
)

// RetryPolicy bounds the retry loop applied to transient upstream failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int
	// BaseDelay is the backoff before the first retry; each subsequent
	// retry doubles it, up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy matches the config defaults: 3 attempts, 250ms base.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Retrier wraps a Provider with bounded retry and a circuit breaker.
// Transient errors (timeouts, 5xx, rate limits) are retried with exponential
// backoff plus jitter; permanent errors fail immediately. While the breaker
// is open, Complete and Embed return ErrUnavailable without calling the
// provider.
type Retrier struct {
	provider Provider
	embedder Embedder
	policy   RetryPolicy
	breaker  *circuitbreaker.Breaker
	timeout  time.Duration
}

// NewRetrier wraps provider. If provider also implements Embedder, embedding
// calls go through the same retry and breaker path. timeout bounds each
// individual attempt; pass 0 for no per-attempt timeout.
func NewRetrier(provider Provider, policy RetryPolicy, breaker *circuitbreaker.Breaker, timeout time.Duration) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 250 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}
	r := &Retrier{provider: provider, policy: policy, breaker: breaker, timeout: timeout}
	if e, ok := provider.(Embedder); ok {
		r.embedder = e
	}
	return r
}

// Name returns the wrapped provider's name.
func (r *Retrier) Name() string { return r.provider.Name() }

// SupportsModel delegates to the wrapped provider.
func (r *Retrier) SupportsModel(model string) bool { return r.provider.SupportsModel(model) }

// Complete calls the provider, retrying transient failures per the policy.
func (r *Retrier) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := r.do(ctx, func(attemptCtx context.Context) error {
		var callErr error
		resp, callErr = r.provider.Complete(attemptCtx, req)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Embed calls the provider's embedder, retrying transient failures.
func (r *Retrier) Embed(ctx context.Context, input string) ([]float64, error) {
	if r.embedder == nil {
		return nil, &Error{Provider: r.Name(), Message: "provider does not support embeddings"}
	}
	var vec []float64
	err := r.do(ctx, func(attemptCtx context.Context) error {
		var callErr error
		vec, callErr = r.embedder.Embed(attemptCtx, input)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *Retrier) do(ctx context.Context, call func(context.Context) error) error {
	if r.breaker != nil && !r.breaker.Allow() {
		metrics.UpstreamErrors.WithLabelValues(r.Name(), "circuit_open").Inc()
		return ErrUnavailable
	}

	var lastErr error
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff(attempt)):
			}
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if r.timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.timeout)
		}
		err := call(attemptCtx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			if r.breaker != nil {
				r.breaker.RecordSuccess()
			}
			return nil
		}

		lastErr = err
		if r.breaker != nil {
			r.breaker.RecordFailure()
		}
		metrics.UpstreamErrors.WithLabelValues(r.Name(), errorType(err)).Inc()
		if !Transient(err) {
			return err
		}
		// The caller's context expiring is terminal even when the
		// underlying error was transient.
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return lastErr
}

// backoff returns the delay before retry number attempt (1-based), doubling
// from BaseDelay with up to 25% random jitter added.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.policy.BaseDelay * time.Duration(1<<(attempt-1))
	if d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1)) //nolint:gosec
	return d + jitter
}

func errorType(err error) string {
	var ue *Error
	if errors.As(err, &ue) && ue.Status == 429 {
		return "rate_limited"
	}
	if Transient(err) {
		return "transient"
	}
	return "permanent"
}
