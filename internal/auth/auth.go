// Package auth is the access control gate: registration, login, and the
// middleware that attaches an authenticated, active party to each request.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/delivery-dispatch/internal/models"
	"github.com/example/delivery-dispatch/internal/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrBadInput           = errors.New("missing required field")
)

const defaultRating = 5.0

type Service struct {
	parties storage.PartyStore
	tokens  *TokenIssuer
	logger  *slog.Logger
	now     func() time.Time
}

func NewService(parties storage.PartyStore, tokens *TokenIssuer, logger *slog.Logger) *Service {
	return &Service{parties: parties, tokens: tokens, logger: logger, now: time.Now}
}

type RegisterParams struct {
	Name         string        `json:"name"`
	Email        string        `json:"email"`
	Password     string        `json:"password"`
	Phone        string        `json:"phone"`
	Document     string        `json:"document"`
	Address      string        `json:"address"`
	AddressLoc   *models.Coord `json:"address_loc"`
	VehicleType  string        `json:"vehicle_type"`
	VehiclePlate string        `json:"vehicle_plate"`
	PayoutKey    string        `json:"payout_key"`
}

func (s *Service) Register(ctx context.Context, role models.Role, p RegisterParams) (*models.Party, error) {
	if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Email) == "" || len(p.Password) < 6 {
		return nil, ErrBadInput
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	party := &models.Party{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(p.Email)),
		PasswordHash: string(hash),
		Role:         role,
		Name:         p.Name,
		Phone:        p.Phone,
		Document:     p.Document,
		Address:      p.Address,
		AddressLoc:   p.AddressLoc,
		VehicleType:  p.VehicleType,
		VehiclePlate: p.VehiclePlate,
		PayoutKey:    p.PayoutKey,
		Active:       true,
		Rating:       defaultRating,
		CreatedAt:    s.now(),
	}
	if err := s.parties.CreateParty(ctx, party); err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.logger.Info("party registered", "party_id", party.ID, "role", role)
	return party, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, *models.Party, error) {
	party, err := s.parties.GetPartyByEmail(ctx, email)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !party.Active {
		return "", nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(party.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	now := s.now()
	if err := s.parties.TouchLogin(ctx, party.ID, now); err != nil {
		s.logger.Warn("touch login failed", "party_id", party.ID, "error", err)
	}
	token, err := s.tokens.Issue(party, now)
	if err != nil {
		return "", nil, err
	}
	return token, party, nil
}

// VerifyParty resolves a bearer token to an active party.
func (s *Service) VerifyParty(ctx context.Context, token string) (*models.Party, error) {
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	party, err := s.parties.GetParty(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !party.Active {
		return nil, ErrInvalidToken
	}
	return party, nil
}

type contextKey string

const partyKey contextKey = "party"

// Middleware authenticates the request and stores the party in its context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		party, err := s.VerifyParty(r.Context(), token)
		if err != nil {
			if !errors.Is(err, ErrInvalidToken) {
				s.logger.Error("auth lookup failed", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), partyKey, party)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PartyFromContext returns the authenticated party placed by Middleware.
func PartyFromContext(ctx context.Context) (*models.Party, bool) {
	p, ok := ctx.Value(partyKey).(*models.Party)
	return p, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	// websocket clients cannot set headers from the browser, allow ?token=
	return r.URL.Query().Get("token")
}
