// Package client provides a Go client for the tally ledger server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	APIKey  string
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.APIKey = strings.TrimSpace(key)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update proposes a new balance for an identity. Timestamp is the caller's
// event time in unix milliseconds and decides acceptance.
type Update struct {
	IdentityID  string          `json:"identity_id"`
	DisplayName string          `json:"display_name,omitempty"`
	XP          int64           `json:"xp"`
	SideData    json.RawMessage `json:"side_data,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

type Outcome struct {
	Accepted  bool   `json:"accepted"`
	NewXP     int64  `json:"new_xp"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason,omitempty"`
}

type Balance struct {
	IdentityID  string          `json:"identity_id"`
	DisplayName string          `json:"display_name"`
	XP          int64           `json:"xp"`
	SideData    json.RawMessage `json:"side_data,omitempty"`
	LastUpdated int64           `json:"last_updated"`
}

type HistoryEntry struct {
	ID         string `json:"id"`
	IdentityID string `json:"identity_id"`
	Delta      int64  `json:"delta"`
	Timestamp  int64  `json:"timestamp"`
}

type StashEntry struct {
	SenderID  string `json:"sender_id"`
	StashedXP int64  `json:"stashed_xp"`
}

type IdentityLink struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
	LinkedAt   string `json:"linked_at"`
}

type RedeemResponse struct {
	Status        string `json:"status"`
	SenderID      string `json:"sender_id,omitempty"`
	ReceiverID    string `json:"receiver_id,omitempty"`
	RedeemedXP    int64  `json:"redeemed_xp"`
	NewReceiverXP int64  `json:"new_receiver_xp,omitempty"`
}

func (c *Client) ApplyUpdate(ctx context.Context, up Update) (Outcome, error) {
	// xp and timestamp are required fields; send them explicitly so zero
	// values survive the wire.
	body := map[string]any{
		"identity_id":  up.IdentityID,
		"display_name": up.DisplayName,
		"xp":           up.XP,
		"timestamp":    up.Timestamp,
	}
	if len(up.SideData) > 0 {
		body["side_data"] = up.SideData
	}
	resp, err := c.postJSON(ctx, "/api/balances", body)
	if err != nil {
		return Outcome{}, err
	}
	return decodeInto[Outcome](resp, "apply update")
}

// SetXP is the trusted override path; the server generates the timestamp.
// Requires an admin-scope API key (or localhost in dev mode).
func (c *Client) SetXP(ctx context.Context, identityID string, xp int64) (Outcome, error) {
	resp, err := c.putJSON(ctx, "/api/balances/"+url.PathEscape(identityID)+"/xp", map[string]any{"xp": xp})
	if err != nil {
		return Outcome{}, err
	}
	return decodeInto[Outcome](resp, "set xp")
}

func (c *Client) Balance(ctx context.Context, identityID string) (Balance, error) {
	resp, err := c.get(ctx, "/api/balances/"+url.PathEscape(identityID))
	if err != nil {
		return Balance{}, err
	}
	return decodeInto[Balance](resp, "get balance")
}

func (c *Client) BalanceByName(ctx context.Context, name string) (Balance, error) {
	resp, err := c.get(ctx, "/api/balances?name="+url.QueryEscape(name))
	if err != nil {
		return Balance{}, err
	}
	return decodeInto[Balance](resp, "get balance by name")
}

func (c *Client) History(ctx context.Context, identityID string) ([]HistoryEntry, error) {
	resp, err := c.get(ctx, "/api/balances/"+url.PathEscape(identityID)+"/history")
	if err != nil {
		return nil, err
	}
	return decodeInto[[]HistoryEntry](resp, "get history")
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]Balance, error) {
	resp, err := c.get(ctx, "/api/leaderboard?limit="+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	return decodeInto[[]Balance](resp, "get leaderboard")
}

func (c *Client) Stash(ctx context.Context, senderID string, amount int64) (StashEntry, error) {
	resp, err := c.postJSON(ctx, "/api/stash", map[string]any{"sender_id": senderID, "amount": amount})
	if err != nil {
		return StashEntry{}, err
	}
	return decodeInto[StashEntry](resp, "stash")
}

func (c *Client) StashBalance(ctx context.Context, senderID string) (StashEntry, error) {
	resp, err := c.get(ctx, "/api/stash/"+url.PathEscape(senderID))
	if err != nil {
		return StashEntry{}, err
	}
	return decodeInto[StashEntry](resp, "get stash")
}

func (c *Client) Link(ctx context.Context, senderID, receiverID string) (IdentityLink, error) {
	resp, err := c.postJSON(ctx, "/api/links", map[string]string{"sender_id": senderID, "receiver_id": receiverID})
	if err != nil {
		return IdentityLink{}, err
	}
	return decodeInto[IdentityLink](resp, "link")
}

func (c *Client) ResolveLink(ctx context.Context, senderID string) (IdentityLink, error) {
	resp, err := c.get(ctx, "/api/links/"+url.PathEscape(senderID))
	if err != nil {
		return IdentityLink{}, err
	}
	return decodeInto[IdentityLink](resp, "resolve link")
}

func (c *Client) ResolveReceiver(ctx context.Context, receiverID string) (IdentityLink, error) {
	resp, err := c.get(ctx, "/api/links?receiver="+url.QueryEscape(receiverID))
	if err != nil {
		return IdentityLink{}, err
	}
	return decodeInto[IdentityLink](resp, "resolve receiver")
}

func (c *Client) Redeem(ctx context.Context, senderID string) (RedeemResponse, error) {
	resp, err := c.postJSON(ctx, "/api/redeem", map[string]string{"sender_id": senderID})
	if err != nil {
		return RedeemResponse{}, err
	}
	return decodeInto[RedeemResponse](resp, "redeem")
}

// RedeemByReceiver redeems from the receiver side; the server resolves the
// link back to the sender.
func (c *Client) RedeemByReceiver(ctx context.Context, receiverID string) (RedeemResponse, error) {
	resp, err := c.postJSON(ctx, "/api/redeem", map[string]string{"receiver_id": receiverID})
	if err != nil {
		return RedeemResponse{}, err
	}
	return decodeInto[RedeemResponse](resp, "redeem by receiver")
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) putJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.do(ctx, http.MethodPut, path, body)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(buf)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	return c.HTTP.Do(req)
}

type apiError struct {
	Error string `json:"error"`
}

func decodeInto[T any](resp *http.Response, op string) (T, error) {
	var v T
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ae apiError
		if json.NewDecoder(resp.Body).Decode(&ae) == nil && ae.Error != "" {
			return v, fmt.Errorf("%s failed: %d: %s", op, resp.StatusCode, ae.Error)
		}
		return v, fmt.Errorf("%s failed: %d", op, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return v, fmt.Errorf("decode %s response: %w", op, err)
	}
	return v, nil
}
