// Package server exposes the operator-facing HTTP status/control
// surface: a health probe, a component status summary, and a read-only
// window into the decision log. It carries no trading logic itself.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/joungwonlim/aegis-v3/internal/store"
	"github.com/joungwonlim/aegis-v3/internal/streaming"
)

// StatusProvider supplies the live fields the /status endpoint reports.
type StatusProvider interface {
	SubscriptionStatus() streaming.Status
	CircuitBreakerActive() bool
	MinScore() float64
}

// Config bundles everything the server needs to construct its routes.
type Config struct {
	Log      zerolog.Logger
	Store    *store.Store
	Status   StatusProvider
	Port     int
	DevMode  bool
}

// Server is the chi-routed status/control HTTP surface.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger
	store  *store.Store
	status StatusProvider
}

func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		store:  cfg.Store,
		status: cfg.Status,
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	if !cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/decisions", s.handleDecisions)

	s.http = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("status server starting")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("status server shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Subscriptions         streaming.Status `json:"subscriptions"`
	CircuitBreakerActive  bool             `json:"circuit_breaker_active"`
	MinScore              float64          `json:"min_score"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "status provider not wired"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Subscriptions:        s.status.SubscriptionStatus(),
		CircuitBreakerActive: s.status.CircuitBreakerActive(),
		MinScore:             s.status.MinScore(),
	})
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := s.store.RecentDecisions(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("decision log query failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
