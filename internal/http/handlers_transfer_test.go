package httpapi

import (
	"net/http"
	"testing"

	"github.com/hollyglen/tally/internal/core"
)

func TestStashEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post("/api/stash", map[string]any{"sender_id": "s1", "amount": 5})
	requireStatus(t, resp, http.StatusOK)
	entry := decodeJSON[core.StashEntry](t, resp)
	if entry.StashedXP != 5 {
		t.Fatalf("expected 5, got %+v", entry)
	}

	resp = env.post("/api/stash", map[string]any{"sender_id": "s1", "amount": 7})
	requireStatus(t, resp, http.StatusOK)
	entry = decodeJSON[core.StashEntry](t, resp)
	if entry.StashedXP != 12 {
		t.Fatalf("expected 12, got %+v", entry)
	}

	resp = env.get("/api/stash/s1")
	requireStatus(t, resp, http.StatusOK)
	entry = decodeJSON[core.StashEntry](t, resp)
	if entry.StashedXP != 12 {
		t.Fatalf("expected 12 on read, got %+v", entry)
	}

	// Missing amount.
	resp = env.post("/api/stash", map[string]any{"sender_id": "s1"})
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Negative amount is a store-side invalid argument.
	resp = env.post("/api/stash", map[string]any{"sender_id": "s1", "amount": -3})
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	if got := len(env.bus.byType(core.EventStashAdded)); got != 2 {
		t.Fatalf("expected 2 stash events, got %d", got)
	}
}

func TestLinkEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post("/api/links", map[string]any{"sender_id": "s1", "receiver_id": "r1"})
	requireStatus(t, resp, http.StatusCreated)
	link := decodeJSON[core.IdentityLink](t, resp)
	if link.SenderID != "s1" || link.ReceiverID != "r1" {
		t.Fatalf("unexpected link: %+v", link)
	}

	resp = env.get("/api/links/s1")
	requireStatus(t, resp, http.StatusOK)
	link = decodeJSON[core.IdentityLink](t, resp)
	if link.ReceiverID != "r1" {
		t.Fatalf("unexpected resolve: %+v", link)
	}

	resp = env.get("/api/links?receiver=r1")
	requireStatus(t, resp, http.StatusOK)
	link = decodeJSON[core.IdentityLink](t, resp)
	if link.SenderID != "s1" {
		t.Fatalf("unexpected reverse resolve: %+v", link)
	}

	resp = env.get("/api/links/unlinked")
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = env.post("/api/links", map[string]any{"sender_id": "s1"})
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestRedeemEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.post("/api/balances", map[string]any{"identity_id": "r1", "xp": 10, "timestamp": 1}).Body.Close()
	env.post("/api/stash", map[string]any{"sender_id": "s1", "amount": 4}).Body.Close()
	env.post("/api/links", map[string]any{"sender_id": "s1", "receiver_id": "r1"}).Body.Close()

	resp := env.post("/api/redeem", map[string]any{"sender_id": "s1"})
	requireStatus(t, resp, http.StatusOK)
	res := decodeJSON[redeemResponse](t, resp)
	if res.Status != "redeemed" || res.RedeemedXP != 4 || res.NewReceiverXP != 14 {
		t.Fatalf("unexpected redeem: %+v", res)
	}

	// Retry after completion is a successful no-op.
	resp = env.post("/api/redeem", map[string]any{"sender_id": "s1"})
	requireStatus(t, resp, http.StatusOK)
	res = decodeJSON[redeemResponse](t, resp)
	if res.Status != "nothing_to_redeem" {
		t.Fatalf("expected nothing_to_redeem, got %+v", res)
	}

	if got := len(env.bus.byType(core.EventRedeemed)); got != 1 {
		t.Fatalf("expected 1 redeem event, got %d", got)
	}
}

func TestRedeemByReceiver(t *testing.T) {
	env := newTestEnv(t)

	env.post("/api/balances", map[string]any{"identity_id": "r1", "xp": 0, "timestamp": 1}).Body.Close()
	env.post("/api/stash", map[string]any{"sender_id": "s1", "amount": 9}).Body.Close()
	env.post("/api/links", map[string]any{"sender_id": "s1", "receiver_id": "r1"}).Body.Close()

	resp := env.post("/api/redeem", map[string]any{"receiver_id": "r1"})
	requireStatus(t, resp, http.StatusOK)
	res := decodeJSON[redeemResponse](t, resp)
	if res.Status != "redeemed" || res.SenderID != "s1" || res.NewReceiverXP != 9 {
		t.Fatalf("unexpected redeem: %+v", res)
	}

	// Receiver nobody linked to reads as unverified.
	resp = env.post("/api/redeem", map[string]any{"receiver_id": "r2"})
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}

func TestRedeemPreconditions(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post("/api/redeem", map[string]any{})
	requireStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Stash but no link.
	env.post("/api/stash", map[string]any{"sender_id": "s1", "amount": 3}).Body.Close()
	resp = env.post("/api/redeem", map[string]any{"sender_id": "s1"})
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Link to a receiver with no balance record.
	env.post("/api/links", map[string]any{"sender_id": "s1", "receiver_id": "ghost"}).Body.Close()
	resp = env.post("/api/redeem", map[string]any{"sender_id": "s1"})
	requireStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
}
