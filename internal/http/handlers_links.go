package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/hollyglen/tally/internal/core"
)

type linkRequest struct {
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id"`
}

func (s *Service) handleLinks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createLink(w, r)
	case http.MethodGet:
		s.resolveByReceiver(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// createLink records a verified sender -> receiver mapping. The verification
// itself (checking the code against the external directory) is the caller's
// job; this endpoint trusts its caller.
func (s *Service) createLink(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SenderID) == "" || strings.TrimSpace(req.ReceiverID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sender_id and receiver_id required"})
		return
	}
	link, err := s.store.Link(r.Context(), req.SenderID, req.ReceiverID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.broadcast(req.SenderID, core.EventLinkCreated, link)
	writeJSON(w, http.StatusCreated, link)
}

func (s *Service) resolveByReceiver(w http.ResponseWriter, r *http.Request) {
	receiver := strings.TrimSpace(r.URL.Query().Get("receiver"))
	if receiver == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "receiver parameter required"})
		return
	}
	link, err := s.store.ResolveReceiver(r.Context(), receiver)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Service) handleLinkBySender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	sender := strings.TrimPrefix(r.URL.Path, "/api/links/")
	sender = strings.Trim(sender, "/")
	if sender == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	link, err := s.store.Resolve(r.Context(), sender)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}
