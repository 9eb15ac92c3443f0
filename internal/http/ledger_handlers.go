package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/delivery-dispatch/internal/auth"
	"github.com/example/delivery-dispatch/internal/models"
)

const ledgerPageLimit = 50

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	entries, err := s.store.ListEntries(r.Context(), party.ID, ledgerPageLimit)
	if err != nil {
		s.logger.Error("ledger list failed", "party_id", party.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "entries": entries})
}

// handleWithdraw records a pending withdrawal and hands the amount to the
// payout provider. The entry is settled out of band; the dispatch engine's
// bookkeeping is not involved beyond the balance it already credited.
func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if party.Role != models.RoleDriver {
		s.writeError(w, http.StatusForbidden, "only drivers can withdraw")
		return
	}
	var body struct {
		Amount models.Money `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Amount <= 0 {
		s.writeError(w, http.StatusBadRequest, "a positive amount is required")
		return
	}
	if body.Amount > party.Balance {
		s.writeError(w, http.StatusConflict, "amount exceeds balance")
		return
	}

	entry := &models.LedgerEntry{
		ID:          uuid.NewString(),
		PartyID:     party.ID,
		Kind:        models.EntryWithdrawal,
		Amount:      -body.Amount,
		Description: "Withdrawal request",
		Status:      models.EntryPending,
		CreatedAt:   time.Now(),
	}
	if err := s.store.InsertEntry(r.Context(), entry); err != nil {
		s.logger.Error("withdrawal insert failed", "party_id", party.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	ref, err := s.payer.Payout(r.Context(), int64(body.Amount), "brl", party.PayoutKey)
	if err != nil {
		// entry stays pending; the operator reconciles failed payouts
		s.logger.Error("payout initiation failed", "entry_id", entry.ID, "error", err)
	} else if ref != "" {
		s.logger.Info("payout initiated", "entry_id", entry.ID, "provider_ref", ref)
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "entry": entry})
}
