package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/delivery-dispatch/internal/auth"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/models"
)

func (s *Server) handleCreateDelivery(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var params dispatch.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.engine.Create(r.Context(), party, params)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"delivery": map[string]any{
			"id":              d.ID,
			"code":            d.Code,
			"status":          d.Status,
			"total_price":     d.Price.Total,
			"driver_earnings": d.Price.DriverEarnings,
		},
	})
}

func (s *Server) handleMyDeliveries(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	status := models.Status(r.URL.Query().Get("status"))
	rows, err := s.engine.ListMine(r.Context(), party, status)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deliveries": rows})
}

func (s *Server) handleAvailableDeliveries(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	rows, err := s.engine.ListAvailable(r.Context(), party)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "deliveries": rows})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	d, err := s.engine.Claim(r.Context(), party, mux.Vars(r)["id"])
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"delivery": map[string]any{
			"id":               d.ID,
			"code":             d.Code,
			"status":           d.Status,
			"pickup_address":   d.PickupAddress,
			"delivery_address": d.DeliveryAddress,
			"customer_name":    d.CustomerName,
			"customer_phone":   d.CustomerPhone,
			"driver_earnings":  d.Price.DriverEarnings,
		},
	})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var body struct {
		Status models.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.engine.UpdateStatus(r.Context(), party, mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "delivery": d})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	// body is optional for cancels
	_ = json.NewDecoder(r.Body).Decode(&body)
	d, err := s.engine.Cancel(r.Context(), party, mux.Vars(r)["id"], body.Reason)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "delivery cancelled",
		"delivery": map[string]any{"id": d.ID, "status": d.Status, "cancel_reason": d.CancelReason},
	})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	var body struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	d, err := s.engine.Rate(r.Context(), party, mux.Vars(r)["id"], body.Rating)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "delivery": d})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	party, ok := auth.PartyFromContext(r.Context())
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	if party.Role != models.RoleDriver {
		s.writeError(w, http.StatusForbidden, "only drivers report locations")
		return
	}
	var body models.Coord
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	now := time.Now()
	loc := models.DriverLocation{DriverID: party.ID, Loc: body, Online: true, Reported: now}

	if err := s.store.UpdateDriverLocation(r.Context(), party.ID, body, now); err != nil {
		s.logger.Error("location persist failed", "driver_id", party.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.locator.Upsert(r.Context(), loc); err != nil {
		s.logger.Warn("geo index update failed", "driver_id", party.ID, "error", err)
	}
	if s.ingest != nil {
		if err := s.ingest.PublishLocation(loc); err != nil {
			s.logger.Warn("location publish failed", "driver_id", party.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
