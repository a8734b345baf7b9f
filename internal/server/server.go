// Package server is the learner-facing HTTP API of the orchestrator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/logging"
	"github.com/michaelbrown/pylab/internal/orchestrator"
)

// Config holds the orchestrator API settings.
type Config struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Server is the HTTP server for the orchestrator API.
type Server struct {
	svc      *orchestrator.Service
	log      *zap.Logger
	origins  []string
	consoles *ConsoleManager
	router   chi.Router
	http     *http.Server
}

// New creates a new Server. An empty origin list allows any origin.
func New(svc *orchestrator.Service, log *zap.Logger, corsOrigins []string) *Server {
	s := &Server{
		svc:      svc,
		log:      log,
		origins:  corsOrigins,
		consoles: NewConsoleManager(),
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(s.corsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(requireUser)

			r.Post("/submissions", s.handleSubmit)
			r.Post("/submissions/execute", s.handleExecute)

			// WebSocket practice console
			r.Get("/submissions/ws", s.handleWebSocket)
		})
	})
}

func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if len(s.origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", UserIDHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	})
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("orchestrator listening", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

// Shutdown closes practice consoles and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down orchestrator")
	s.consoles.CloseAll()

	if s.http == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
