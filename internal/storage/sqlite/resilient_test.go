package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hollyglen/tally/internal/core"
)

func newResilientTest(t *testing.T, threshold int) *ResilientStore {
	t.Helper()
	inner := NewSQLiteTest(t)
	return NewResilientWithBreaker(inner, NewCircuitBreaker(threshold, time.Minute))
}

func TestResilientPassesThrough(t *testing.T) {
	r := newResilientTest(t, 3)
	ctx := context.Background()

	out, err := r.ApplyUpdate(ctx, core.Update{IdentityID: "u1", XP: 10, Timestamp: 1})
	if err != nil || !out.Accepted {
		t.Fatalf("apply update: %+v %v", out, err)
	}
	b, err := r.GetBalance(ctx, "u1")
	if err != nil || b.XP != 10 {
		t.Fatalf("get balance: %+v %v", b, err)
	}
	if r.CircuitBreakerState() != "closed" {
		t.Fatalf("expected closed breaker, got %s", r.CircuitBreakerState())
	}
}

func TestResilientDomainErrorsDontTripBreaker(t *testing.T) {
	r := newResilientTest(t, 2)
	ctx := context.Background()

	// Repeated caller errors are normal traffic, not store failures.
	for i := 0; i < 10; i++ {
		if _, err := r.GetBalance(ctx, "ghost"); !errors.Is(err, core.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := r.Redeem(ctx, "unlinked"); !errors.Is(err, core.ErrUnverified) {
			t.Fatalf("expected ErrUnverified, got %v", err)
		}
	}
	if r.CircuitBreakerState() != "closed" {
		t.Fatalf("breaker tripped on domain errors: %s", r.CircuitBreakerState())
	}

	// The store still works afterwards.
	if _, err := r.AddStash(ctx, "s1", 3); err != nil {
		t.Fatalf("stash after domain errors: %v", err)
	}
}

func TestResilientRejectsWhenOpen(t *testing.T) {
	inner := NewSQLiteTest(t)
	r := NewResilientWithBreaker(inner, NewCircuitBreaker(1, time.Minute))

	// Closing the database makes every call a genuine store failure.
	if err := inner.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	ctx := context.Background()
	if _, err := r.GetBalance(ctx, "u1"); err == nil {
		t.Fatal("expected error from closed store")
	}
	if r.CircuitBreakerState() != "open" {
		t.Fatalf("expected open breaker, got %s", r.CircuitBreakerState())
	}
	if _, err := r.GetBalance(ctx, "u1"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}
