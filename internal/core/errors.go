package core

import "errors"

var (
	// ErrInvalidArgument marks malformed input: negative XP, missing
	// identity, bad limits.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks a referenced identity or sender with no record.
	ErrNotFound = errors.New("not found")

	// ErrUnverified is returned by redemption when the sender has no
	// identity link.
	ErrUnverified = errors.New("sender not verified")

	// ErrNothingToRedeem is returned by redemption when the sender's stash
	// is absent or empty. A repeat redemption hits this path, which is what
	// makes redemption at-most-once.
	ErrNothingToRedeem = errors.New("nothing to redeem")

	// ErrReceiverUnknown is returned by redemption when the linked receiver
	// has no balance record yet.
	ErrReceiverUnknown = errors.New("receiver unknown")
)
