package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hollyglen/tally/internal/core"
)

type stashRequest struct {
	SenderID string `json:"sender_id"`
	Amount   *int64 `json:"amount"`
}

func (s *Service) handleStash(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req stashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SenderID) == "" || req.Amount == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sender_id and amount required"})
		return
	}
	total, err := s.store.AddStash(r.Context(), req.SenderID, *req.Amount)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	entry := core.StashEntry{SenderID: req.SenderID, StashedXP: total}
	s.broadcast(req.SenderID, core.EventStashAdded, entry)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Service) handleStashBySender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sender := strings.TrimPrefix(r.URL.Path, "/api/stash/")
	sender = strings.Trim(sender, "/")
	if sender == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	entry, err := s.store.GetStash(r.Context(), sender)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
