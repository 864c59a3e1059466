package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedder"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// requestTimeout bounds every API request except the kiosk websocket.
const requestTimeout = 60 * time.Second

// Server represents the web server
type Server struct {
	config         *config.Config
	router         *chi.Mux
	httpServer     *http.Server
	service        *attendance.Service
	subjects       database.SubjectStore
	embedder       embedder.Embedder
	sessionManager *middleware.SessionManager
	identifyLimit  *middleware.RateLimiter
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, svc *attendance.Service, subjects database.SubjectStore, emb embedder.Embedder) *Server {
	r := chi.NewRouter()

	s := &Server{
		config:         cfg,
		router:         r,
		service:        svc,
		subjects:       subjects,
		embedder:       emb,
		sessionManager: middleware.NewSessionManager(cfg.Web.SessionSecret),
		identifyLimit:  middleware.NewRateLimiter(cfg.Web.IdentifyRate, cfg.Web.IdentifyBurst),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("Starting web server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down web server...")

	s.sessionManager.Stop()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Sessions exposes the session manager for tests
func (s *Server) Sessions() *middleware.SessionManager {
	return s.sessionManager
}
