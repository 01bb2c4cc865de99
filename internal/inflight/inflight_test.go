package inflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/semantis-ai/semcache/upstream"
)

func TestDo_SingleUpstreamCallPerKey(t *testing.T) {
	var g Group
	var calls atomic.Int64
	release := make(chan struct{})

	const waiters = 16
	var wg sync.WaitGroup
	responses := make([]*upstream.Response, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _, err := g.Do(context.Background(), "k1", func(context.Context) (*upstream.Response, error) {
				calls.Add(1)
				<-release
				return &upstream.Response{ID: "resp-1"}, nil
			})
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			responses[i] = resp
		}(i)
	}

	// Give every goroutine a chance to join before the leader resolves.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream called %d times, want 1", n)
	}
	for i, resp := range responses {
		if resp == nil || resp.ID != "resp-1" {
			t.Fatalf("waiter %d received %+v, want shared resp-1", i, resp)
		}
	}
}

func TestDo_DistinctKeysDoNotJoin(t *testing.T) {
	var g Group
	var calls atomic.Int64

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = g.Do(context.Background(), key, func(context.Context) (*upstream.Response, error) {
				calls.Add(1)
				time.Sleep(10 * time.Millisecond)
				return &upstream.Response{}, nil
			})
		}(key)
	}
	wg.Wait()

	if n := calls.Load(); n != 2 {
		t.Fatalf("upstream called %d times, want 2", n)
	}
}

func TestDo_FailureFansOutWithoutRetry(t *testing.T) {
	var g Group
	var calls atomic.Int64
	release := make(chan struct{})
	boom := errors.New("provider down")

	const waiters = 4
	var wg sync.WaitGroup
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = g.Do(context.Background(), "k1", func(context.Context) (*upstream.Response, error) {
				calls.Add(1)
				<-release
				return nil, boom
			})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("upstream called %d times, want 1", n)
	}
	for i, err := range errs {
		if !errors.Is(err, boom) {
			t.Fatalf("waiter %d got %v, want the leader's failure", i, err)
		}
	}

	// The key is forgotten on completion, so the next request retries fresh.
	_, _, err := g.Do(context.Background(), "k1", func(context.Context) (*upstream.Response, error) {
		calls.Add(1)
		return &upstream.Response{ID: "recovered"}, nil
	})
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("retry did not reach upstream: calls=%d", n)
	}
}

func TestDo_LeaderSurvivesCallerCancellation(t *testing.T) {
	var g Group
	started := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_, _, _ = g.Do(ctx, "k1", func(callCtx context.Context) (*upstream.Response, error) {
			close(started)
			select {
			case <-callCtx.Done():
				// Detached context: the caller's cancel must not land here.
			case <-time.After(50 * time.Millisecond):
			}
			close(finished)
			return &upstream.Response{}, nil
		})
	}()

	<-started
	cancel()

	select {
	case <-finished:
		// The upstream call ran to completion despite the cancel.
	case <-time.After(time.Second):
		t.Fatal("leader call did not complete after caller cancellation")
	}
}

func TestDo_WaiterHonorsOwnDeadline(t *testing.T) {
	var g Group
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _, _ = g.Do(context.Background(), "k1", func(context.Context) (*upstream.Response, error) {
			<-release
			return &upstream.Response{}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := g.Do(ctx, "k1", func(context.Context) (*upstream.Response, error) {
		return &upstream.Response{}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}
