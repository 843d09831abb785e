package core

import "time"

type EventType string

const (
	EventBalanceUpdated EventType = "balance.updated"
	EventStashAdded     EventType = "stash.added"
	EventLinkCreated    EventType = "link.created"
	EventRedeemed       EventType = "redeem.completed"
	EventAuditMismatch  EventType = "audit.mismatch"
)

// Event is the envelope broadcast to websocket subscribers after a state
// change commits. IdentityID is the identity whose subscribers receive it.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	IdentityID string    `json:"identity_id"`
	Data       any       `json:"data,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
