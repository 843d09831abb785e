package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hollyglen/tally/internal/core"
)

type redeemRequest struct {
	SenderID   string `json:"sender_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
}

type redeemResponse struct {
	Status        string `json:"status"`
	SenderID      string `json:"sender_id,omitempty"`
	ReceiverID    string `json:"receiver_id,omitempty"`
	RedeemedXP    int64  `json:"redeemed_xp"`
	NewReceiverXP int64  `json:"new_receiver_xp,omitempty"`
}

// handleRedeem moves the sender's stash to the linked receiver. The request
// may name either side; a receiver_id is resolved back to its sender first.
// An empty stash is reported as a successful no-op so caller retries after a
// completed redemption stay idempotent.
func (s *Service) handleRedeem(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sender := strings.TrimSpace(req.SenderID)
	if sender == "" {
		receiver := strings.TrimSpace(req.ReceiverID)
		if receiver == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "sender_id or receiver_id required"})
			return
		}
		link, err := s.store.ResolveReceiver(r.Context(), receiver)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": core.ErrUnverified.Error()})
				return
			}
			writeStoreError(w, err)
			return
		}
		sender = link.SenderID
	}

	result, err := s.store.Redeem(r.Context(), sender)
	if err != nil {
		if errors.Is(err, core.ErrNothingToRedeem) {
			writeJSON(w, http.StatusOK, redeemResponse{Status: "nothing_to_redeem", SenderID: sender})
			return
		}
		writeStoreError(w, err)
		return
	}

	s.broadcast(result.ReceiverID, core.EventRedeemed, result)
	writeJSON(w, http.StatusOK, redeemResponse{
		Status:        "redeemed",
		SenderID:      result.SenderID,
		ReceiverID:    result.ReceiverID,
		RedeemedXP:    result.RedeemedXP,
		NewReceiverXP: result.NewReceiverXP,
	})
}
