package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hollyglen/tally/internal/core"
)

// Store is the durable ledger behind the service. Every mutation touching a
// single identity's balance and history, or a single sender's stash, is
// linearizable; Redeem spans the sender's stash and the receiver's balance in
// one transaction.
type Store interface {
	ApplyUpdate(ctx context.Context, up core.Update) (core.Outcome, error)
	SetAbsolute(ctx context.Context, identityID string, xp int64) (core.Outcome, error)
	GetBalance(ctx context.Context, identityID string) (core.Balance, error)
	GetBalanceByName(ctx context.Context, name string) (core.Balance, error)
	History(ctx context.Context, identityID string) ([]core.HistoryEntry, error)
	TopN(ctx context.Context, n int) ([]core.Balance, error)

	AddStash(ctx context.Context, senderID string, amount int64) (int64, error)
	GetStash(ctx context.Context, senderID string) (core.StashEntry, error)

	Link(ctx context.Context, senderID, receiverID string) (core.IdentityLink, error)
	Resolve(ctx context.Context, senderID string) (core.IdentityLink, error)
	ResolveReceiver(ctx context.Context, receiverID string) (core.IdentityLink, error)

	Redeem(ctx context.Context, senderID string) (core.RedeemResult, error)

	Close() error
}

// InMemory is a mutex-guarded reference implementation used in tests. The
// production store is sqlite; this one exists so handler and client tests can
// run without a database file and so the reconciliation semantics have an
// executable second opinion.
type InMemory struct {
	mu       sync.Mutex
	balances map[string]core.Balance
	history  map[string][]core.HistoryEntry
	stash    map[string]int64
	links    map[string]core.IdentityLink
	nowFunc  func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		balances: make(map[string]core.Balance),
		history:  make(map[string][]core.HistoryEntry),
		stash:    make(map[string]int64),
		links:    make(map[string]core.IdentityLink),
		nowFunc:  time.Now,
	}
}

func (m *InMemory) ApplyUpdate(ctx context.Context, up core.Update) (core.Outcome, error) {
	if err := up.Validate(); err != nil {
		return core.Outcome{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyLocked(up)
}

// applyLocked runs the reconciliation rule against the maps. Callers hold mu.
func (m *InMemory) applyLocked(up core.Update) (core.Outcome, error) {
	old, exists := m.balances[up.IdentityID]
	if exists && up.Timestamp <= old.LastUpdated {
		return core.Outcome{Accepted: false, NewXP: old.XP, Timestamp: old.LastUpdated, Reason: core.ReasonOlderTimestamp}, nil
	}
	delta := up.XP - old.XP
	m.balances[up.IdentityID] = core.Balance{
		IdentityID:  up.IdentityID,
		DisplayName: up.DisplayName,
		XP:          up.XP,
		SideData:    up.SideData,
		LastUpdated: up.Timestamp,
	}
	if delta != 0 {
		m.history[up.IdentityID] = append(m.history[up.IdentityID], core.HistoryEntry{
			ID:         uuid.NewString(),
			IdentityID: up.IdentityID,
			Delta:      delta,
			Timestamp:  up.Timestamp,
		})
	}
	return core.Outcome{Accepted: true, NewXP: up.XP, Timestamp: up.Timestamp}, nil
}

func (m *InMemory) SetAbsolute(ctx context.Context, identityID string, xp int64) (core.Outcome, error) {
	if strings.TrimSpace(identityID) == "" {
		return core.Outcome{}, fmt.Errorf("%w: identity_id required", core.ErrInvalidArgument)
	}
	if xp < 0 {
		return core.Outcome{}, fmt.Errorf("%w: xp must be non-negative", core.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, exists := m.balances[identityID]
	if !exists {
		return core.Outcome{}, fmt.Errorf("set absolute %q: %w", identityID, core.ErrNotFound)
	}
	ts := monotonicTimestamp(m.nowFunc(), old.LastUpdated)
	return m.applyLocked(core.Update{
		IdentityID:  identityID,
		DisplayName: old.DisplayName,
		XP:          xp,
		SideData:    old.SideData,
		Timestamp:   ts,
	})
}

func (m *InMemory) GetBalance(ctx context.Context, identityID string) (core.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[identityID]
	if !ok {
		return core.Balance{}, fmt.Errorf("balance %q: %w", identityID, core.ErrNotFound)
	}
	return b, nil
}

func (m *InMemory) GetBalanceByName(ctx context.Context, name string) (core.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found core.Balance
	var ok bool
	for _, b := range m.balances {
		if strings.EqualFold(b.DisplayName, name) {
			if !ok || b.LastUpdated > found.LastUpdated {
				found = b
				ok = true
			}
		}
	}
	if !ok {
		return core.Balance{}, fmt.Errorf("balance named %q: %w", name, core.ErrNotFound)
	}
	return found, nil
}

func (m *InMemory) History(ctx context.Context, identityID string) ([]core.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := append([]core.HistoryEntry(nil), m.history[identityID]...)
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Timestamp < entries[j].Timestamp })
	return entries, nil
}

func (m *InMemory) TopN(ctx context.Context, n int) ([]core.Balance, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", core.ErrInvalidArgument)
	}
	if n > core.MaxLeaderboard {
		n = core.MaxLeaderboard
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Balance, 0, len(m.balances))
	for _, b := range m.balances {
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].XP > out[j].XP })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *InMemory) AddStash(ctx context.Context, senderID string, amount int64) (int64, error) {
	if strings.TrimSpace(senderID) == "" {
		return 0, fmt.Errorf("%w: sender_id required", core.ErrInvalidArgument)
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount must be non-negative", core.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stash[senderID] += amount
	return m.stash[senderID], nil
}

func (m *InMemory) GetStash(ctx context.Context, senderID string) (core.StashEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return core.StashEntry{SenderID: senderID, StashedXP: m.stash[senderID]}, nil
}

func (m *InMemory) Link(ctx context.Context, senderID, receiverID string) (core.IdentityLink, error) {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(receiverID) == "" {
		return core.IdentityLink{}, fmt.Errorf("%w: sender_id and receiver_id required", core.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	link := core.IdentityLink{SenderID: senderID, ReceiverID: receiverID, LinkedAt: m.nowFunc().UTC()}
	m.links[senderID] = link
	return link, nil
}

func (m *InMemory) Resolve(ctx context.Context, senderID string) (core.IdentityLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[senderID]
	if !ok {
		return core.IdentityLink{}, fmt.Errorf("link for sender %q: %w", senderID, core.ErrNotFound)
	}
	return link, nil
}

func (m *InMemory) ResolveReceiver(ctx context.Context, receiverID string) (core.IdentityLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found core.IdentityLink
	var ok bool
	for _, link := range m.links {
		if link.ReceiverID == receiverID {
			if !ok || link.LinkedAt.After(found.LinkedAt) {
				found = link
				ok = true
			}
		}
	}
	if !ok {
		return core.IdentityLink{}, fmt.Errorf("link for receiver %q: %w", receiverID, core.ErrNotFound)
	}
	return found, nil
}

func (m *InMemory) Redeem(ctx context.Context, senderID string) (core.RedeemResult, error) {
	if strings.TrimSpace(senderID) == "" {
		return core.RedeemResult{}, fmt.Errorf("%w: sender_id required", core.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[senderID]
	if !ok {
		return core.RedeemResult{}, fmt.Errorf("redeem %q: %w", senderID, core.ErrUnverified)
	}
	amount := m.stash[senderID]
	if amount <= 0 {
		return core.RedeemResult{}, fmt.Errorf("redeem %q: %w", senderID, core.ErrNothingToRedeem)
	}
	receiver, ok := m.balances[link.ReceiverID]
	if !ok {
		return core.RedeemResult{}, fmt.Errorf("redeem %q to %q: %w", senderID, link.ReceiverID, core.ErrReceiverUnknown)
	}
	ts := monotonicTimestamp(m.nowFunc(), receiver.LastUpdated)
	outcome, err := m.applyLocked(core.Update{
		IdentityID:  receiver.IdentityID,
		DisplayName: receiver.DisplayName,
		XP:          receiver.XP + amount,
		SideData:    receiver.SideData,
		Timestamp:   ts,
	})
	if err != nil {
		return core.RedeemResult{}, err
	}
	m.stash[senderID] = 0
	return core.RedeemResult{
		SenderID:      senderID,
		ReceiverID:    link.ReceiverID,
		RedeemedXP:    amount,
		NewReceiverXP: outcome.NewXP,
		Timestamp:     ts,
	}, nil
}

func (m *InMemory) Close() error { return nil }

// monotonicTimestamp returns a generated event timestamp that strictly
// exceeds lastUpdated, so a server-generated write can never lose to the
// stale rule, even across rapid repeated calls within one millisecond.
func monotonicTimestamp(now time.Time, lastUpdated int64) int64 {
	ts := now.UnixMilli()
	if ts <= lastUpdated {
		ts = lastUpdated + 1
	}
	return ts
}
