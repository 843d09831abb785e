package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/hollyglen/tally/internal/auth"
	"github.com/hollyglen/tally/internal/core"
)

type applyUpdateRequest struct {
	IdentityID  string          `json:"identity_id"`
	DisplayName string          `json:"display_name"`
	XP          *int64          `json:"xp"`
	SideData    json.RawMessage `json:"side_data,omitempty"`
	Timestamp   *int64          `json:"timestamp"`
}

type setAbsoluteRequest struct {
	XP *int64 `json:"xp"`
}

func (s *Service) handleBalances(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.applyUpdate(w, r)
	case http.MethodGet:
		s.getBalanceByName(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) handleBalanceByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/balances/")
	path = strings.Trim(path, "/")
	if path == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch {
	case strings.HasSuffix(path, "/history"):
		id := strings.TrimSuffix(path, "/history")
		id = strings.Trim(id, "/")
		if r.Method != http.MethodGet || id == "" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.getHistory(w, r, id)
	case strings.HasSuffix(path, "/xp"):
		id := strings.TrimSuffix(path, "/xp")
		id = strings.Trim(id, "/")
		if r.Method != http.MethodPut || id == "" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.setAbsolute(w, r, id)
	default:
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.getBalance(w, r, path)
	}
}

func (s *Service) applyUpdate(w http.ResponseWriter, r *http.Request) {
	var req applyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.IdentityID) == "" || req.XP == nil || req.Timestamp == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "identity_id, xp and timestamp required"})
		return
	}

	outcome, err := s.store.ApplyUpdate(r.Context(), core.Update{
		IdentityID:  req.IdentityID,
		DisplayName: req.DisplayName,
		XP:          *req.XP,
		SideData:    req.SideData,
		Timestamp:   *req.Timestamp,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if outcome.Accepted {
		s.broadcast(req.IdentityID, core.EventBalanceUpdated, outcome)
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Service) setAbsolute(w http.ResponseWriter, r *http.Request, id string) {
	info, _ := auth.FromContext(r.Context())
	if !info.CanAdmin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin scope required"})
		return
	}
	var req setAbsoluteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.XP == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "xp required"})
		return
	}
	outcome, err := s.store.SetAbsolute(r.Context(), id, *req.XP)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.broadcast(id, core.EventBalanceUpdated, outcome)
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Service) getBalance(w http.ResponseWriter, r *http.Request, id string) {
	balance, err := s.store.GetBalance(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Service) getBalanceByName(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name parameter required"})
		return
	}
	balance, err := s.store.GetBalanceByName(r.Context(), name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (s *Service) getHistory(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := s.store.History(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if entries == nil {
		entries = []core.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Service) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := core.MaxLeaderboard
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be an integer"})
			return
		}
		limit = n
	}
	top, err := s.store.TopN(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if top == nil {
		top = []core.Balance{}
	}
	writeJSON(w, http.StatusOK, top)
}
