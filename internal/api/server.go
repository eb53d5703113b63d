package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voxctl/voxctl/internal/api/middleware"
	"github.com/voxctl/voxctl/internal/config"
	"github.com/voxctl/voxctl/internal/event"
	"github.com/voxctl/voxctl/internal/session"
	"github.com/voxctl/voxctl/internal/webhook"
)

// RoomService is the single provider operation the hangup command needs.
// The telephony client satisfies it; tests substitute stubs.
type RoomService interface {
	DeleteRoom(ctx context.Context, room string) error
}

// Deps carries the server's collaborators. Everything is injected so
// tests can assemble a server around fakes.
type Deps struct {
	Manager  *session.Manager
	Store    *event.Store
	Emitter  *event.Emitter
	Verifier *webhook.Verifier
	Ingester *webhook.Ingester
	Rooms    RoomService

	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	cfg     *config.Config
	deps    Deps
	limiter *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		cfg:     cfg,
		deps:    deps,
		limiter: middleware.NewIPRateLimiter(middleware.ControlRateLimitConfig(cfg.RateLimitPerMin)),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases background resources held by the server.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures the middleware stack and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)

	// Unauthenticated surface: health, metrics, and the provider webhook.
	// The webhook authenticates through its own signed token and is never
	// rate limited; dropped deliveries would lose call state.
	r.Get("/health", s.handleHealth)
	r.Post("/webhook", s.handleWebhook)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	// Operator surface.
	r.Route("/control", func(r chi.Router) {
		r.Use(middleware.RateLimit(s.limiter))
		if s.cfg.ControlAuthToken != "" {
			r.Use(middleware.RequireBearer(s.cfg.ControlAuthToken))
		}

		r.Post("/call/hangup", s.handleHangup)
		r.Get("/sessions", s.handleListSessions)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Get("/events", s.handleSessionEvents)
		})
	})

	slog.Info("control routes mounted")
}

// handleHealth returns basic health status. Unauthenticated.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"component": "control_plane",
	})
}
