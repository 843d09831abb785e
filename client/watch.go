// WebSocket support for real-time ledger event subscriptions.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is a committed ledger change delivered over the websocket gateway.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	IdentityID string          `json:"identity_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EventHandler is called for each event received via WebSocket.
type EventHandler func(event Event)

// Watcher manages a WebSocket subscription to one identity's events
// (or all events when the identity is "*").
type Watcher struct {
	baseURL  string
	apiKey   string
	identity string
	conn     *websocket.Conn
	handlers []EventHandler
	mu       sync.RWMutex
	done     chan struct{}
}

// NewWatcher creates a watcher for the given identity. Use "*" to watch
// every identity.
func NewWatcher(baseURL, apiKey, identityID string) *Watcher {
	return &Watcher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		identity: identityID,
		done:     make(chan struct{}),
	}
}

// OnEvent registers an event handler.
func (w *Watcher) OnEvent(handler EventHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Connect establishes the WebSocket connection and starts the read loop.
func (w *Watcher) Connect(ctx context.Context) error {
	wsURL, err := w.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	opts := &websocket.DialOptions{}
	if w.apiKey != "" {
		opts.HTTPHeader = map[string][]string{
			"Authorization": {"Bearer " + w.apiKey},
		}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	w.conn = conn

	go w.readLoop(ctx)
	return nil
}

// Close closes the WebSocket connection.
func (w *Watcher) Close() error {
	close(w.done)
	if w.conn != nil {
		return w.conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (w *Watcher) readLoop(ctx context.Context) {
	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		default:
		}
		var ev Event
		if err := wsjson.Read(ctx, w.conn, &ev); err != nil {
			return
		}
		w.mu.RLock()
		handlers := append([]EventHandler(nil), w.handlers...)
		w.mu.RUnlock()
		for _, h := range handlers {
			h(ev)
		}
	}
}

func (w *Watcher) buildWSURL() (string, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	// Raw path here; String() escapes it exactly once. Pre-escaping would
	// double-encode wildcards and the server would register the subscriber
	// under the wrong identity.
	u.Path = "/ws/identities/" + w.identity
	return u.String(), nil
}
