// Package api provides the HTTP API server and handlers for the Carbon Step server.
package api

import (
	"encoding/json/v2"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/carbonstep/carbonstep-server/internal/ratelimit"
	"github.com/carbonstep/carbonstep-server/internal/service"
	"github.com/carbonstep/carbonstep-server/internal/store"
	"github.com/carbonstep/carbonstep-server/internal/validation"
)

// Services groups the business logic services used by the API server.
type Services struct {
	Import   *service.ImportService
	Activity *service.ActivityService
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	store          *store.Store
	services       *Services
	limiter        *ratelimit.KeyedRateLimiter
	validator      *validation.Validator
	maxImportBytes int64
	router         *chi.Mux
	api            huma.API
	logger         *slog.Logger
}

// NewServer creates a new HTTP server with all routes configured.
// limiter may be nil to disable import rate limiting (tests);
// maxImportBytes <= 0 falls back to the default import body cap.
func NewServer(s *store.Store, services *Services, limiter *ratelimit.KeyedRateLimiter, maxImportBytes int64, logger *slog.Logger) *Server {
	srv := &Server{
		store:          s,
		services:       services,
		limiter:        limiter,
		validator:      validation.New(),
		maxImportBytes: maxImportBytes,
		router:         chi.NewRouter(),
		logger:         logger,
	}

	srv.setupMiddleware()

	RegisterErrorHandler()
	config := huma.DefaultConfig("Carbon Step API", "1.0.0")
	config.Info.Description = "Activity tracking and data import reconciliation"
	srv.api = humachi.New(srv.router, config)

	srv.registerHealthRoutes()
	srv.registerImportRoutes()
	srv.registerActivityRoutes()

	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// setupMiddleware configures middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	s.router.Use(s.importRateLimit)
}

// importRateLimit throttles import submissions per client. Other routes are
// cheap reads and pass through.
func (s *Server) importRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/v1/imports") {
			if !s.limiter.Allow(clientIP(r)) {
				s.logger.Warn("import rate limit exceeded", "ip", clientIP(r))
				writeTooManyRequests(w)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeTooManyRequests(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	body, _ := json.Marshal(&APIError{
		Code:    "RATE_LIMITED",
		Message: "Too many import requests. Please try again later.",
	})
	_, _ = w.Write(body)
}

// clientIP extracts the client IP from the request. RealIP middleware has
// already resolved forwarding headers into RemoteAddr.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	for i := len(ip) - 1; i >= 0; i-- {
		if ip[i] == ':' {
			return ip[:i]
		}
	}
	return ip
}
