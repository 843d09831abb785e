package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/hollyglen/tally/internal/core"
	"github.com/hollyglen/tally/internal/storage"
)

// Compile-time interface check.
var _ storage.Store = (*ResilientStore)(nil)

// ResilientStore wraps every method of *Store with CircuitBreaker +
// RetryOnDBLock to provide resilience against transient SQLite errors
// (database-is-locked, connection failures, etc.).
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
}

// NewResilient creates a ResilientStore with default circuit breaker settings
// (threshold=5, resetTimeout=30s).
func NewResilient(inner *Store) *ResilientStore {
	return &ResilientStore{inner: inner, cb: NewCircuitBreaker(5, 30*time.Second)}
}

// NewResilientWithBreaker creates a ResilientStore with a custom circuit breaker.
func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb}
}

// CircuitBreakerState returns the current state of the circuit breaker as a string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

// run executes fn through breaker + retry. Defined outcomes (invalid
// argument, not found, redemption preconditions) are caller errors, not store
// health signals, so they don't count toward tripping the breaker.
func (r *ResilientStore) run(fn func() error) error {
	var opErr error
	cbErr := r.cb.Execute(func() error {
		opErr = RetryOnDBLock(fn)
		if isDefinedOutcome(opErr) {
			return nil
		}
		return opErr
	})
	if errors.Is(cbErr, ErrCircuitOpen) {
		return cbErr
	}
	return opErr
}

func isDefinedOutcome(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, core.ErrInvalidArgument) ||
		errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrUnverified) ||
		errors.Is(err, core.ErrNothingToRedeem) ||
		errors.Is(err, core.ErrReceiverUnknown)
}

func (r *ResilientStore) ApplyUpdate(ctx context.Context, up core.Update) (core.Outcome, error) {
	var result core.Outcome
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.ApplyUpdate(ctx, up)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) SetAbsolute(ctx context.Context, identityID string, xp int64) (core.Outcome, error) {
	var result core.Outcome
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.SetAbsolute(ctx, identityID, xp)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetBalance(ctx context.Context, identityID string) (core.Balance, error) {
	var result core.Balance
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.GetBalance(ctx, identityID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetBalanceByName(ctx context.Context, name string) (core.Balance, error) {
	var result core.Balance
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.GetBalanceByName(ctx, name)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) History(ctx context.Context, identityID string) ([]core.HistoryEntry, error) {
	var result []core.HistoryEntry
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.History(ctx, identityID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) TopN(ctx context.Context, n int) ([]core.Balance, error) {
	var result []core.Balance
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.TopN(ctx, n)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) AddStash(ctx context.Context, senderID string, amount int64) (int64, error) {
	var result int64
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.AddStash(ctx, senderID, amount)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) GetStash(ctx context.Context, senderID string) (core.StashEntry, error) {
	var result core.StashEntry
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.GetStash(ctx, senderID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Link(ctx context.Context, senderID, receiverID string) (core.IdentityLink, error) {
	var result core.IdentityLink
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.Link(ctx, senderID, receiverID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Resolve(ctx context.Context, senderID string) (core.IdentityLink, error) {
	var result core.IdentityLink
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.Resolve(ctx, senderID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) ResolveReceiver(ctx context.Context, receiverID string) (core.IdentityLink, error) {
	var result core.IdentityLink
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.ResolveReceiver(ctx, receiverID)
		return innerErr
	})
	return result, err
}

func (r *ResilientStore) Redeem(ctx context.Context, senderID string) (core.RedeemResult, error) {
	var result core.RedeemResult
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.Redeem(ctx, senderID)
		return innerErr
	})
	return result, err
}

// ReplayMismatches wraps the Store's audit query with CB+retry.
func (r *ResilientStore) ReplayMismatches(ctx context.Context) ([]core.AuditMismatch, error) {
	var result []core.AuditMismatch
	err := r.run(func() error {
		var innerErr error
		result, innerErr = r.inner.ReplayMismatches(ctx)
		return innerErr
	})
	return result, err
}

// Close delegates directly to the inner store without CB or retry.
func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
