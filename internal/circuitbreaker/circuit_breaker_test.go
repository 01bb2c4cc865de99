package circuitbreaker

import (
	"testing"
	"time"
)

func TestInitialStateClosed(t *testing.T) {
	b := New(3, 1, 10*time.Second)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected Allow=true when closed")
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New(3, 1, 10*time.Second)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("expected Allow=false when open")
	}
}

func TestHalfOpenAfterCooldown(t *testing.T) {
	b := New(1, 1, 1*time.Millisecond)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected Allow=true when half_open")
	}
}

func TestClosesAfterSuccessInHalfOpen(t *testing.T) {
	b := New(1, 1, 1*time.Millisecond)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	_ = b.State() // trigger half-open transition
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success in half_open, got %s", b.State())
	}
}

func TestReopensOnFailureInHalfOpen(t *testing.T) {
	b := New(1, 1, 1*time.Millisecond)
	b.RecordFailure()
	time.Sleep(5 * time.Millisecond)
	_ = b.State() // trigger half-open transition
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after failure in half_open, got %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New(3, 1, 10*time.Second)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected still closed (failure count reset), got %s", b.State())
	}
}
