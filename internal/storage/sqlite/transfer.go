package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hollyglen/tally/internal/core"
)

// AddStash atomically increments (or creates) the sender's stash entry. The
// increment happens inside the statement, not as a read-modify-write in Go,
// so concurrent stash calls for the same sender compose additively.
func (s *Store) AddStash(ctx context.Context, senderID string, amount int64) (int64, error) {
	if strings.TrimSpace(senderID) == "" {
		return 0, fmt.Errorf("%w: sender_id required", core.ErrInvalidArgument)
	}
	if amount < 0 {
		return 0, fmt.Errorf("%w: amount must be non-negative", core.ErrInvalidArgument)
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO stash (sender_id, stashed_xp) VALUES (?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET stashed_xp = stashed_xp + excluded.stashed_xp
		 RETURNING stashed_xp`,
		senderID, amount)
	var total int64
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("stash increment: %w", err)
	}
	return total, nil
}

// GetStash returns the sender's stash entry. An absent row reads as zero;
// redemption zeroes rather than deletes, so both states mean the same thing.
func (s *Store) GetStash(ctx context.Context, senderID string) (core.StashEntry, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT stashed_xp FROM stash WHERE sender_id = ?`, senderID).Scan(&total)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.StashEntry{}, fmt.Errorf("query stash: %w", err)
	}
	return core.StashEntry{SenderID: senderID, StashedXP: total}, nil
}

// Link records the sender -> receiver identity mapping. Re-linking the same
// sender overwrites; verification of the receiver happens before this call,
// outside the core.
func (s *Store) Link(ctx context.Context, senderID, receiverID string) (core.IdentityLink, error) {
	if strings.TrimSpace(senderID) == "" || strings.TrimSpace(receiverID) == "" {
		return core.IdentityLink{}, fmt.Errorf("%w: sender_id and receiver_id required", core.ErrInvalidArgument)
	}
	linkedAt := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO links (sender_id, receiver_id, linked_at) VALUES (?, ?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET
		   receiver_id = excluded.receiver_id,
		   linked_at = excluded.linked_at`,
		senderID, receiverID, linkedAt.Format(time.RFC3339Nano),
	); err != nil {
		return core.IdentityLink{}, fmt.Errorf("upsert link: %w", err)
	}
	return core.IdentityLink{SenderID: senderID, ReceiverID: receiverID, LinkedAt: linkedAt}, nil
}

func (s *Store) Resolve(ctx context.Context, senderID string) (core.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sender_id, receiver_id, linked_at FROM links WHERE sender_id = ?`, senderID)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IdentityLink{}, fmt.Errorf("link for sender %q: %w", senderID, core.ErrNotFound)
	}
	return link, err
}

// ResolveReceiver finds the sender linked to a receiver. Multiple senders may
// link to one receiver; the most recent link wins.
func (s *Store) ResolveReceiver(ctx context.Context, receiverID string) (core.IdentityLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sender_id, receiver_id, linked_at FROM links
		 WHERE receiver_id = ? ORDER BY linked_at DESC LIMIT 1`, receiverID)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IdentityLink{}, fmt.Errorf("link for receiver %q: %w", receiverID, core.ErrNotFound)
	}
	return link, err
}

// Redeem moves the sender's entire stash into the linked receiver's balance.
// Everything from the link lookup to the stash zeroing runs in one
// transaction: a crash at any point leaves the transfer either not started or
// fully applied, never the receiver credited with the stash still standing.
func (s *Store) Redeem(ctx context.Context, senderID string) (core.RedeemResult, error) {
	if strings.TrimSpace(senderID) == "" {
		return core.RedeemResult{}, fmt.Errorf("%w: sender_id required", core.ErrInvalidArgument)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.RedeemResult{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var receiverID string
	err = tx.QueryRowContext(ctx,
		`SELECT receiver_id FROM links WHERE sender_id = ?`, senderID).Scan(&receiverID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RedeemResult{}, fmt.Errorf("redeem %q: %w", senderID, core.ErrUnverified)
	}
	if err != nil {
		return core.RedeemResult{}, fmt.Errorf("resolve link: %w", err)
	}

	var amount int64
	err = tx.QueryRowContext(ctx,
		`SELECT stashed_xp FROM stash WHERE sender_id = ?`, senderID).Scan(&amount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return core.RedeemResult{}, fmt.Errorf("read stash: %w", err)
	}
	if amount <= 0 {
		return core.RedeemResult{}, fmt.Errorf("redeem %q: %w", senderID, core.ErrNothingToRedeem)
	}

	receiver, exists, err := readBalanceTx(ctx, tx, receiverID)
	if err != nil {
		return core.RedeemResult{}, err
	}
	if !exists {
		return core.RedeemResult{}, fmt.Errorf("redeem %q to %q: %w", senderID, receiverID, core.ErrReceiverUnknown)
	}

	up := core.Update{
		IdentityID:  receiver.IdentityID,
		DisplayName: receiver.DisplayName,
		XP:          receiver.XP + amount,
		SideData:    receiver.SideData,
		Timestamp:   monotonicTimestamp(time.Now(), receiver.LastUpdated),
	}
	if err := writeAcceptedTx(ctx, tx, up, receiver.XP); err != nil {
		return core.RedeemResult{}, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE stash SET stashed_xp = 0 WHERE sender_id = ?`, senderID); err != nil {
		return core.RedeemResult{}, fmt.Errorf("clear stash: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.RedeemResult{}, fmt.Errorf("commit redeem: %w", err)
	}

	return core.RedeemResult{
		SenderID:      senderID,
		ReceiverID:    receiverID,
		RedeemedXP:    amount,
		NewReceiverXP: up.XP,
		Timestamp:     up.Timestamp,
	}, nil
}

func scanLink(row scanner) (core.IdentityLink, error) {
	var link core.IdentityLink
	var linkedAt string
	err := row.Scan(&link.SenderID, &link.ReceiverID, &linkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.IdentityLink{}, err
	}
	if err != nil {
		return core.IdentityLink{}, fmt.Errorf("scan link: %w", err)
	}
	link.LinkedAt, err = time.Parse(time.RFC3339Nano, linkedAt)
	if err != nil {
		return core.IdentityLink{}, fmt.Errorf("parse linked_at for %q: %w", link.SenderID, err)
	}
	return link, nil
}
