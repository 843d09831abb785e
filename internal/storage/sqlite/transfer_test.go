package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/hollyglen/tally/internal/core"
)

func TestStashAccumulates(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	total, err := st.AddStash(ctx, "s1", 5)
	if err != nil {
		t.Fatalf("first stash: %v", err)
	}
	if total != 5 {
		t.Fatalf("expected 5, got %d", total)
	}
	total, err = st.AddStash(ctx, "s1", 7)
	if err != nil {
		t.Fatalf("second stash: %v", err)
	}
	if total != 12 {
		t.Fatalf("expected 12, got %d", total)
	}

	entry, err := st.GetStash(ctx, "s1")
	if err != nil {
		t.Fatalf("get stash: %v", err)
	}
	if entry.StashedXP != 12 {
		t.Fatalf("expected stash 12, got %d", entry.StashedXP)
	}
}

func TestStashAbsentReadsZero(t *testing.T) {
	st := NewSQLiteTest(t)

	entry, err := st.GetStash(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get stash: %v", err)
	}
	if entry.StashedXP != 0 {
		t.Fatalf("expected zero stash, got %d", entry.StashedXP)
	}
}

func TestStashValidation(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	if _, err := st.AddStash(ctx, "", 1); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for empty sender, got %v", err)
	}
	if _, err := st.AddStash(ctx, "s1", -1); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative amount, got %v", err)
	}
}

func TestLinkUpsertAndResolve(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	if _, err := st.Link(ctx, "s1", "r1"); err != nil {
		t.Fatalf("link: %v", err)
	}
	// Re-link overwrites the receiver.
	if _, err := st.Link(ctx, "s1", "r2"); err != nil {
		t.Fatalf("relink: %v", err)
	}

	link, err := st.Resolve(ctx, "s1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if link.ReceiverID != "r2" {
		t.Fatalf("expected r2 after relink, got %s", link.ReceiverID)
	}

	back, err := st.ResolveReceiver(ctx, "r2")
	if err != nil {
		t.Fatalf("resolve receiver: %v", err)
	}
	if back.SenderID != "s1" {
		t.Fatalf("expected s1, got %s", back.SenderID)
	}

	if _, err := st.Resolve(ctx, "unlinked"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveRejectsCorruptLinkedAt(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	if _, err := st.db.ExecContext(ctx,
		`INSERT INTO links (sender_id, receiver_id, linked_at) VALUES ('s1', 'r1', 'not-a-time')`); err != nil {
		t.Fatalf("seed corrupt link: %v", err)
	}
	if _, err := st.Resolve(ctx, "s1"); err == nil {
		t.Fatal("corrupt linked_at must not read as the zero time")
	}
	if _, err := st.ResolveReceiver(ctx, "r1"); err == nil {
		t.Fatal("corrupt linked_at must not decide most-recent ordering")
	}
}

func TestRedeemMovesStashOnce(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	if _, err := st.ApplyUpdate(ctx, core.Update{IdentityID: "r1", DisplayName: "Receiver", XP: 10, Timestamp: 1}); err != nil {
		t.Fatalf("seed receiver: %v", err)
	}
	if _, err := st.AddStash(ctx, "s1", 4); err != nil {
		t.Fatalf("stash: %v", err)
	}
	if _, err := st.Link(ctx, "s1", "r1"); err != nil {
		t.Fatalf("link: %v", err)
	}

	res, err := st.Redeem(ctx, "s1")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.RedeemedXP != 4 || res.NewReceiverXP != 14 {
		t.Fatalf("unexpected redeem result: %+v", res)
	}

	b, _ := st.GetBalance(ctx, "r1")
	if b.XP != 14 {
		t.Fatalf("receiver balance should be 14, got %d", b.XP)
	}
	entry, _ := st.GetStash(ctx, "s1")
	if entry.StashedXP != 0 {
		t.Fatalf("stash should be zero after redeem, got %d", entry.StashedXP)
	}

	// The credit must appear in history like any other accepted update.
	entries, _ := st.History(ctx, "r1")
	if len(entries) != 2 || entries[1].Delta != 4 {
		t.Fatalf("expected history delta 4, got %+v", entries)
	}

	// Second redeem is a no-op, not a double credit.
	if _, err := st.Redeem(ctx, "s1"); !errors.Is(err, core.ErrNothingToRedeem) {
		t.Fatalf("expected ErrNothingToRedeem, got %v", err)
	}
	b, _ = st.GetBalance(ctx, "r1")
	if b.XP != 14 {
		t.Fatalf("double redeem changed balance to %d", b.XP)
	}
}

func TestRedeemRequiresLink(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	if _, err := st.AddStash(ctx, "s1", 9); err != nil {
		t.Fatalf("stash: %v", err)
	}
	if _, err := st.Redeem(ctx, "s1"); !errors.Is(err, core.ErrUnverified) {
		t.Fatalf("expected ErrUnverified, got %v", err)
	}
	// Nothing moved.
	entry, _ := st.GetStash(ctx, "s1")
	if entry.StashedXP != 9 {
		t.Fatalf("stash should be untouched, got %d", entry.StashedXP)
	}
}

func TestRedeemRequiresReceiverBalance(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	_, _ = st.AddStash(ctx, "s1", 3)
	_, _ = st.Link(ctx, "s1", "ghost")
	if _, err := st.Redeem(ctx, "s1"); !errors.Is(err, core.ErrReceiverUnknown) {
		t.Fatalf("expected ErrReceiverUnknown, got %v", err)
	}
	entry, _ := st.GetStash(ctx, "s1")
	if entry.StashedXP != 3 {
		t.Fatalf("stash should survive a failed redeem, got %d", entry.StashedXP)
	}
}

func TestRedeemTimestampsMonotonic(t *testing.T) {
	st := NewSQLiteTest(t)
	ctx := context.Background()

	_, _ = st.ApplyUpdate(ctx, core.Update{IdentityID: "r1", XP: 0, Timestamp: 1})
	_, _ = st.Link(ctx, "s1", "r1")

	// Rapid redemptions in the same millisecond still get strictly
	// increasing event timestamps.
	var prev int64
	for i := 0; i < 5; i++ {
		if _, err := st.AddStash(ctx, "s1", 1); err != nil {
			t.Fatalf("stash %d: %v", i, err)
		}
		res, err := st.Redeem(ctx, "s1")
		if err != nil {
			t.Fatalf("redeem %d: %v", i, err)
		}
		if res.Timestamp <= prev {
			t.Fatalf("timestamp %d not greater than previous %d", res.Timestamp, prev)
		}
		prev = res.Timestamp
	}

	b, _ := st.GetBalance(ctx, "r1")
	if b.XP != 5 {
		t.Fatalf("expected 5 after five unit redemptions, got %d", b.XP)
	}
}
