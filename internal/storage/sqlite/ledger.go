package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hollyglen/tally/internal/core"
)

// ApplyUpdate runs the reconciliation rule for one proposed balance. The read
// of the current record, the stale-timestamp comparison, the balance upsert
// and the history append all happen inside one transaction, so concurrent
// updates for the same identity serialize and the last-writer-wins decision
// is made against committed state, never a stale read.
func (s *Store) ApplyUpdate(ctx context.Context, up core.Update) (core.Outcome, error) {
	if err := up.Validate(); err != nil {
		return core.Outcome{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	old, exists, err := readBalanceTx(ctx, tx, up.IdentityID)
	if err != nil {
		return core.Outcome{}, err
	}
	if exists && up.Timestamp <= old.LastUpdated {
		// Stale by the caller's own clock. Not an error: report what won.
		return core.Outcome{Accepted: false, NewXP: old.XP, Timestamp: old.LastUpdated, Reason: core.ReasonOlderTimestamp}, nil
	}

	if err := writeAcceptedTx(ctx, tx, up, old.XP); err != nil {
		return core.Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Outcome{}, fmt.Errorf("commit update: %w", err)
	}
	return core.Outcome{Accepted: true, NewXP: up.XP, Timestamp: up.Timestamp}, nil
}

// SetAbsolute is the trusted override path: it generates its own event
// timestamp instead of trusting a caller, and refuses to create records.
func (s *Store) SetAbsolute(ctx context.Context, identityID string, xp int64) (core.Outcome, error) {
	if strings.TrimSpace(identityID) == "" {
		return core.Outcome{}, fmt.Errorf("%w: identity_id required", core.ErrInvalidArgument)
	}
	if xp < 0 {
		return core.Outcome{}, fmt.Errorf("%w: xp must be non-negative", core.ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	old, exists, err := readBalanceTx(ctx, tx, identityID)
	if err != nil {
		return core.Outcome{}, err
	}
	if !exists {
		return core.Outcome{}, fmt.Errorf("set absolute %q: %w", identityID, core.ErrNotFound)
	}

	up := core.Update{
		IdentityID:  identityID,
		DisplayName: old.DisplayName,
		XP:          xp,
		SideData:    old.SideData,
		Timestamp:   monotonicTimestamp(time.Now(), old.LastUpdated),
	}
	if err := writeAcceptedTx(ctx, tx, up, old.XP); err != nil {
		return core.Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return core.Outcome{}, fmt.Errorf("commit set absolute: %w", err)
	}
	return core.Outcome{Accepted: true, NewXP: xp, Timestamp: up.Timestamp}, nil
}

// writeAcceptedTx upserts the balance record and appends the history entry
// for an accepted update. Callers hold the transaction and have already
// applied the stale guard.
func writeAcceptedTx(ctx context.Context, tx *sql.Tx, up core.Update, oldXP int64) error {
	var sideData any
	if len(up.SideData) > 0 {
		sideData = string(up.SideData)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO balances (identity_id, display_name, xp, side_data, last_updated)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(identity_id) DO UPDATE SET
		   display_name = excluded.display_name,
		   xp = excluded.xp,
		   side_data = excluded.side_data,
		   last_updated = excluded.last_updated`,
		up.IdentityID, up.DisplayName, up.XP, sideData, up.Timestamp,
	); err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	if delta := up.XP - oldXP; delta != 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO history (id, identity_id, delta, ts) VALUES (?, ?, ?, ?)`,
			uuid.NewString(), up.IdentityID, delta, up.Timestamp,
		); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	return nil
}

func readBalanceTx(ctx context.Context, tx *sql.Tx, identityID string) (core.Balance, bool, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT identity_id, display_name, xp, side_data, last_updated
		 FROM balances WHERE identity_id = ?`, identityID)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Balance{}, false, nil
	}
	if err != nil {
		return core.Balance{}, false, err
	}
	return b, true, nil
}

func (s *Store) GetBalance(ctx context.Context, identityID string) (core.Balance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity_id, display_name, xp, side_data, last_updated
		 FROM balances WHERE identity_id = ?`, identityID)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Balance{}, fmt.Errorf("balance %q: %w", identityID, core.ErrNotFound)
	}
	return b, err
}

// GetBalanceByName is a case-insensitive display-name lookup. Display names
// are not unique; the most recently updated record wins.
func (s *Store) GetBalanceByName(ctx context.Context, name string) (core.Balance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity_id, display_name, xp, side_data, last_updated
		 FROM balances WHERE display_name = ? COLLATE NOCASE
		 ORDER BY last_updated DESC LIMIT 1`, name)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Balance{}, fmt.Errorf("balance named %q: %w", name, core.ErrNotFound)
	}
	return b, err
}

func (s *Store) History(ctx context.Context, identityID string) ([]core.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity_id, delta, ts FROM history
		 WHERE identity_id = ? ORDER BY ts ASC, id ASC`, identityID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []core.HistoryEntry
	for rows.Next() {
		var e core.HistoryEntry
		if err := rows.Scan(&e.ID, &e.IdentityID, &e.Delta, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) TopN(ctx context.Context, n int) ([]core.Balance, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", core.ErrInvalidArgument)
	}
	if n > core.MaxLeaderboard {
		n = core.MaxLeaderboard
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity_id, display_name, xp, side_data, last_updated
		 FROM balances ORDER BY xp DESC, identity_id ASC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	var out []core.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBalance(row scanner) (core.Balance, error) {
	var b core.Balance
	var sideData sql.NullString
	err := row.Scan(&b.IdentityID, &b.DisplayName, &b.XP, &sideData, &b.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Balance{}, err
	}
	if err != nil {
		return core.Balance{}, fmt.Errorf("scan balance: %w", err)
	}
	if sideData.Valid {
		b.SideData = []byte(sideData.String)
	}
	return b, nil
}

// monotonicTimestamp returns a generated event timestamp strictly greater
// than lastUpdated, so server-generated writes can never be rejected by the
// stale rule even when several land in the same millisecond.
func monotonicTimestamp(now time.Time, lastUpdated int64) int64 {
	ts := now.UnixMilli()
	if ts <= lastUpdated {
		ts = lastUpdated + 1
	}
	return ts
}
