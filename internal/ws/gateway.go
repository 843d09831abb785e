package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Hub fans committed ledger events out to websocket subscribers. A client
// subscribes to one identity (`/ws/identities/{id}`) or to everything with
// the `*` wildcard.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*websocket.Conn]struct{})}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/ws/identities/")
		identity := strings.Trim(path, "/")
		if identity == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(identity, conn)
		defer h.remove(identity, conn)

		// Drain until the client goes away; subscribers don't send.
		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

type connEntry struct {
	conn     *websocket.Conn
	identity string
}

// Broadcast delivers event to subscribers of identityID and to wildcard
// subscribers. An empty identityID reaches only the wildcard listeners.
func (h *Hub) Broadcast(identityID string, event any) {
	entries := h.snapshot(identityID)
	if len(entries) == 0 {
		return
	}
	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(e.identity, e.conn)
			}(e)
		}
	}
}

func (h *Hub) snapshot(identityID string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []connEntry
	if identityID != "" {
		for conn := range h.conns[identityID] {
			out = append(out, connEntry{conn: conn, identity: identityID})
		}
	}
	for conn := range h.conns["*"] {
		out = append(out, connEntry{conn: conn, identity: "*"})
	}
	return out
}

func (h *Hub) add(identity string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perIdentity, ok := h.conns[identity]
	if !ok {
		perIdentity = make(map[*websocket.Conn]struct{})
		h.conns[identity] = perIdentity
	}
	perIdentity[conn] = struct{}{}
}

func (h *Hub) remove(identity string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perIdentity, ok := h.conns[identity]
	if !ok {
		return
	}
	delete(perIdentity, conn)
	if len(perIdentity) == 0 {
		delete(h.conns, identity)
	}
}
