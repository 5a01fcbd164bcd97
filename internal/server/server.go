// Package server provides the HTTP API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/folio/internal/di"
	snapshothandlers "github.com/aristath/folio/internal/modules/snapshots/handlers"
)

// Config holds server configuration
type Config struct {
	Log       zerolog.Logger
	Container *di.Container
	Port      int
	DevMode   bool

	// WSOriginPatterns are the cross-origin hosts allowed on the event stream.
	// Same-origin clients are always accepted.
	WSOriginPatterns []string
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	container *di.Container
	port      int
	devMode   bool
	started   time.Time

	wsOriginPatterns []string
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		container: cfg.Container,
		port:      cfg.Port,
		devMode:   cfg.DevMode,
		started:   time.Now(),

		wsOriginPatterns: cfg.WSOriginPatterns,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	snapshotHandler := snapshothandlers.NewHandler(s.container.SnapshotService, s.container.WorkProcessor, s.log)

	s.router.Get("/health", s.handleHealth)

	// Long-lived, so it stays outside the timeout and compression group
	s.router.Get("/api/events/ws", s.handleEventsWS)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		if !s.devMode {
			r.Use(middleware.Compress(5))
		}

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Use(s.userIDMiddleware)

			r.Get("/positions", s.handleGetPositions)
			r.Get("/positions/{symbol}", s.handleGetPositionDetail)
			r.Get("/summary", s.handleGetSummary)
			snapshotHandler.RegisterRoutes(r)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", s.handleListTransactions)
				r.Post("/", s.handleCreateTransaction)
				r.Delete("/{txID}", s.handleDeleteTransaction)
			})
		})

		r.Route("/market", func(r chi.Router) {
			r.Get("/securities", s.handleListSecurities)
			r.Post("/prices", s.handleIngestPrices)
			r.Post("/dividends", s.handleIngestDividends)
		})

		r.Get("/work/status", s.handleWorkStatus)
		r.Get("/system/status", s.handleSystemStatus)
	})
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event := s.log.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
