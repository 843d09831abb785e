package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hollyglen/tally/internal/core"
	"github.com/hollyglen/tally/internal/storage"
)

type Service struct {
	store storage.Store
	bus   Broadcaster
}

type Broadcaster interface {
	Broadcast(identityID string, event any)
}

func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

func (s *Service) WithBroadcaster(b Broadcaster) *Service {
	s.bus = b
	return s
}

func (s *Service) broadcast(identityID string, typ core.EventType, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Broadcast(identityID, core.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		IdentityID: identityID,
		Data:       data,
		CreatedAt:  time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeStoreError maps the typed store errors onto HTTP statuses. Anything
// unrecognized is a transient store failure and safe for callers to retry.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, core.ErrUnverified), errors.Is(err, core.ErrReceiverUnknown):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store failure"})
	}
}
