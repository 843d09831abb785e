package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxLeaderboard is the hard cap on leaderboard query size.
const MaxLeaderboard = 50

// Balance is the current XP record for one identity. It is created on the
// first accepted update and never deleted. LastUpdated is the event timestamp
// (unix milliseconds) of the last accepted update and is monotonically
// non-decreasing for the life of the record.
type Balance struct {
	IdentityID  string          `json:"identity_id"`
	DisplayName string          `json:"display_name"`
	XP          int64           `json:"xp"`
	SideData    json.RawMessage `json:"side_data,omitempty"`
	LastUpdated int64           `json:"last_updated"`
}

// HistoryEntry records one accepted XP change. Entries are append-only;
// replaying all entries for an identity in timestamp order reproduces its
// current XP.
type HistoryEntry struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Delta      int64  `json:"delta"`
	Timestamp  int64  `json:"timestamp"`
}

// StashEntry holds points earned by a sender identity awaiting transfer to
// the linked receiver identity.
type StashEntry struct {
	SenderID  string `json:"sender_id"`
	StashedXP int64  `json:"stashed_xp"`
}

// IdentityLink maps a sender identity to its verified receiver identity.
// At most one receiver per sender; re-linking overwrites.
type IdentityLink struct {
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id"`
	LinkedAt   time.Time `json:"linked_at"`
}

// Update is a proposed balance change from an untrusted caller. Timestamp is
// caller-supplied and decides acceptance, not arrival order.
type Update struct {
	IdentityID  string          `json:"identity_id"`
	DisplayName string          `json:"display_name"`
	XP          int64           `json:"xp"`
	SideData    json.RawMessage `json:"side_data,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

// Validate checks the update's arguments. It does not touch stored state.
func (u Update) Validate() error {
	if strings.TrimSpace(u.IdentityID) == "" {
		return fmt.Errorf("%w: identity_id required", ErrInvalidArgument)
	}
	if u.XP < 0 {
		return fmt.Errorf("%w: xp must be non-negative", ErrInvalidArgument)
	}
	return nil
}

// ReasonOlderTimestamp is the reason attached to updates rejected by the
// stale-timestamp rule.
const ReasonOlderTimestamp = "older timestamp"

// Outcome is the result of a reconciliation attempt. A rejected update is a
// defined outcome, not an error: NewXP and Timestamp carry the stored values
// that won.
type Outcome struct {
	Accepted  bool   `json:"accepted"`
	NewXP     int64  `json:"new_xp"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

// RedeemResult reports a completed stash transfer.
type RedeemResult struct {
	SenderID      string `json:"sender_id"`
	ReceiverID    string `json:"receiver_id"`
	RedeemedXP    int64  `json:"redeemed_xp"`
	NewReceiverXP int64  `json:"new_receiver_xp"`
	Timestamp     int64  `json:"timestamp"`
}

// AuditMismatch is a replay-invariant violation detected by the auditor:
// the history deltas for an identity no longer sum to its stored XP.
type AuditMismatch struct {
	IdentityID string `json:"identity_id"`
	XP         int64  `json:"xp"`
	ReplaySum  int64  `json:"replay_sum"`
}
