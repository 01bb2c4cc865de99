// Package inflight joins concurrent cache misses for the same prompt key so
// at most one upstream call is outstanding per (tenant, model, prompt hash).
// All callers blocked on the same key observe the leader's result — success
// or failure — and the key is forgotten the moment the call resolves, so a
// later request retries fresh.
package inflight

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/semantis-ai/semcache/internal/metrics"
	"github.com/semantis-ai/semcache/upstream"
)

// Group deduplicates in-flight upstream calls by key. The zero value is
// ready to use.
type Group struct {
	sf singleflight.Group
}

// Do runs fn once per key among concurrent callers. The first caller becomes
// the leader; the rest block until the leader's result is available and
// receive the same response or error. shared reports whether the result came
// from another caller's invocation.
//
// The leader runs fn on a context detached from the caller's cancellation:
// a disconnecting client must not abort an upstream call other waiters (or
// the cache write) depend on. A waiter whose own context expires stops
// waiting and gets ctx.Err(), while the leader's call keeps going.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (*upstream.Response, error)) (resp *upstream.Response, shared bool, err error) {
	ch := g.sf.DoChan(key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			metrics.InFlightWaiters.Inc()
		}
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*upstream.Response), res.Shared, nil
	}
}
