package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/delivery-dispatch/internal/auth"
	"github.com/example/delivery-dispatch/internal/models"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token, party, err := s.auth.Login(r.Context(), body.Email, body.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		s.writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		s.logger.Error("login failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user":    party,
	})
}

func (s *Server) handleRegisterRestaurant(w http.ResponseWriter, r *http.Request) {
	s.handleRegister(w, r, models.RoleRestaurant)
}

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	s.handleRegister(w, r, models.RoleDriver)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, role models.Role) {
	var params auth.RegisterParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	party, err := s.auth.Register(r.Context(), role, params)
	switch {
	case errors.Is(err, auth.ErrBadInput):
		s.writeError(w, http.StatusBadRequest, "name, email and a password of at least 6 characters are required")
		return
	case errors.Is(err, auth.ErrEmailTaken):
		s.writeError(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		s.logger.Error("registration failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": party})
}
