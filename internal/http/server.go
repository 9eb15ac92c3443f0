// Package httpapi exposes the dispatch engine over HTTP and websockets.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-dispatch/internal/auth"
	"github.com/example/delivery-dispatch/internal/config"
	"github.com/example/delivery-dispatch/internal/dispatch"
	"github.com/example/delivery-dispatch/internal/geo"
	"github.com/example/delivery-dispatch/internal/ingest"
	"github.com/example/delivery-dispatch/internal/notify"
	"github.com/example/delivery-dispatch/internal/payments"
	"github.com/example/delivery-dispatch/internal/pricing"
	"github.com/example/delivery-dispatch/internal/storage"
)

type Server struct {
	store   storage.Store
	engine  *dispatch.Engine
	auth    *auth.Service
	locator geo.Locator
	ingest  *ingest.KafkaProducer
	wsreg   *notify.Registry
	payer   payments.Payer
	logger  *slog.Logger
	mux     *mux.Router
}

// NewServer wires the full request path from config: storage backend, geo
// index, notifier chain, engine, access gate and routes.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		store = ps
	} else {
		logger.Warn("PG_DSN not set, using in-memory store")
		store = storage.NewMemoryStore()
	}

	var locator geo.Locator
	if cfg.RedisAddr != "" {
		locator = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		locator = geo.NewIndex()
	}

	wsreg := notify.NewRegistry(logger)
	var notifier dispatch.Notifier = wsreg
	if len(cfg.KafkaBrokers) > 0 {
		mirror := notify.NewKafkaMirror(cfg.KafkaBrokers, cfg.KafkaEventTopic, logger)
		notifier = notify.NewFanout(wsreg, mirror)
	}

	var producer *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaLocationTopic)
	}

	var payer payments.Payer = payments.NoopPayer{}
	if cfg.StripeAPIKey != "" {
		payer = payments.NewStripeClient(cfg.StripeAPIKey)
	}

	calc := pricing.NewCalculator(cfg.BaseFee, cfg.PerKmFee)
	engine := dispatch.New(store, calc, notifier, locator, logger)
	engine.SetPageLimits(cfg.AvailableLimit, cfg.MineLimit)
	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	gate := auth.NewService(store, tokens, logger)

	s := &Server{
		store:   store,
		engine:  engine,
		auth:    gate,
		locator: locator,
		ingest:  producer,
		wsreg:   wsreg,
		payer:   payer,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/auth/login", s.handleLogin).Methods("POST")
	s.mux.HandleFunc("/api/v1/auth/register/restaurant", s.handleRegisterRestaurant).Methods("POST")
	s.mux.HandleFunc("/api/v1/auth/register/driver", s.handleRegisterDriver).Methods("POST")

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.auth.Middleware)
	api.HandleFunc("/deliveries", s.handleCreateDelivery).Methods("POST")
	api.HandleFunc("/deliveries/my", s.handleMyDeliveries).Methods("GET")
	api.HandleFunc("/deliveries/available", s.handleAvailableDeliveries).Methods("GET")
	api.HandleFunc("/deliveries/{id}/claim", s.handleClaim).Methods("POST")
	api.HandleFunc("/deliveries/{id}/status", s.handleUpdateStatus).Methods("PATCH")
	api.HandleFunc("/deliveries/{id}/cancel", s.handleCancel).Methods("PATCH")
	api.HandleFunc("/deliveries/{id}/rate", s.handleRate).Methods("POST")
	api.HandleFunc("/drivers/location", s.handleDriverLocation).Methods("POST")
	api.HandleFunc("/ledger", s.handleLedger).Methods("GET")
	api.HandleFunc("/ledger/withdraw", s.handleWithdraw).Methods("POST")

	ws := s.mux.PathPrefix("/ws").Subrouter()
	ws.Use(s.auth.Middleware)
	ws.HandleFunc("/restaurants/{id}", s.handleRestaurantWS)
	ws.HandleFunc("/drivers/{id}", s.handleDriverWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// --- response helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeEngineError maps the engine's failure taxonomy onto status codes.
// Internal detail is logged, never returned.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var de *dispatch.Error
	if !errors.As(err, &de) {
		s.logger.Error("unclassified error", "error", err, "request_id", requestIDFromContext(r.Context()))
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	switch de.Kind {
	case dispatch.KindValidation:
		s.writeError(w, http.StatusBadRequest, de.Msg)
	case dispatch.KindAuthorization:
		s.writeError(w, http.StatusForbidden, de.Msg)
	case dispatch.KindConflict:
		s.writeError(w, http.StatusConflict, de.Msg)
	case dispatch.KindNotFound:
		s.writeError(w, http.StatusNotFound, de.Msg)
	default:
		s.logger.Error("internal error", "error", de.Err, "request_id", requestIDFromContext(r.Context()))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
