package sqlite

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/hollyglen/tally/internal/core"
)

// Broadcaster is the interface for emitting events to WebSocket clients.
type Broadcaster interface {
	Broadcast(identityID string, event any)
}

// AuditSource is the replay query the Auditor polls. Both *Store and
// *ResilientStore satisfy it; production passes the resilient wrapper so the
// audit traffic shares the breaker and retry policy with everything else.
type AuditSource interface {
	ReplayMismatches(ctx context.Context) ([]core.AuditMismatch, error)
}

// Auditor runs a background goroutine that periodically replays the history
// ledger and compares the per-identity delta sums against stored balances.
// It never mutates; a mismatch means the replay invariant was violated and is
// logged and broadcast for operators to investigate.
type Auditor struct {
	store    AuditSource
	bus      Broadcaster
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewAuditor creates a new Auditor. Call Start() to begin auditing.
func NewAuditor(store AuditSource, bus Broadcaster, interval time.Duration) *Auditor {
	return &Auditor{
		store:    store,
		bus:      bus,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the background audit goroutine with a startup pass.
func (a *Auditor) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	go func() {
		defer close(a.done)

		a.runAudit(ctx)

		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runAudit(ctx)
			}
		}
	}()
}

// Stop cancels the audit loop and waits for it to exit.
func (a *Auditor) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	<-a.done
}

func (a *Auditor) runAudit(ctx context.Context) {
	mismatches, err := a.store.ReplayMismatches(ctx)
	if err != nil {
		log.Printf("ledger audit failed: %v", err)
		return
	}
	for _, m := range mismatches {
		log.Printf("LEDGER MISMATCH identity=%s xp=%d replay_sum=%d", m.IdentityID, m.XP, m.ReplaySum)
		if a.bus != nil {
			a.bus.Broadcast(m.IdentityID, core.Event{
				ID:         uuid.NewString(),
				Type:       core.EventAuditMismatch,
				IdentityID: m.IdentityID,
				Data:       m,
				CreatedAt:  time.Now().UTC(),
			})
		}
	}
}

// ReplayMismatches returns identities whose history delta sum no longer
// equals the stored balance. The first accepted update for an identity writes
// a delta from zero, so the sums match exactly for healthy records.
func (s *Store) ReplayMismatches(ctx context.Context) ([]core.AuditMismatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT b.identity_id, b.xp, COALESCE(SUM(h.delta), 0) AS replay_sum
		 FROM balances b
		 LEFT JOIN history h ON h.identity_id = b.identity_id
		 GROUP BY b.identity_id
		 HAVING b.xp != COALESCE(SUM(h.delta), 0)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AuditMismatch
	for rows.Next() {
		var m core.AuditMismatch
		if err := rows.Scan(&m.IdentityID, &m.XP, &m.ReplaySum); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
