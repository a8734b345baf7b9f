package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/logging"
	"github.com/michaelbrown/pylab/internal/sandbox"
)

// Version is reported by GET /.
const Version = "1.0.0"

const maxRequestBytes = 1 << 20

// Server is the HTTP front of the execution service.
type Server struct {
	sandbox  sandbox.Sandbox
	log      *zap.Logger
	validate *validator.Validate
	router   chi.Router
	http     *http.Server
}

// NewServer creates a Server that executes requests with sb.
func NewServer(sb sandbox.Sandbox, log *zap.Logger) *Server {
	s := &Server{
		sandbox:  sb,
		log:      log,
		validate: validator.New(),
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

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/execute", s.handleExecute)
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

	s.log.Info("code runner listening", zap.String("addr", addr))
	return s.http.ListenAndServe()
}

// Shutdown waits for in-flight executions to finish, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down code runner")
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Python Code Runner Service",
		"version": Version,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "code-runner"})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", "invalid JSON: "+err.Error()))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("", "timeout must be a non-negative number of seconds"))
		return
	}

	res, err := s.sandbox.Run(r.Context(), sandbox.Request{
		Code:    req.Code,
		Timeout: req.Budget(),
	})
	if err != nil {
		log := s.log.With(zap.String("request_id", middleware.GetReqID(r.Context())))
		if errors.Is(err, sandbox.ErrBusy) {
			log.Warn("execution rejected, no free slot")
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, errorResponse(OutcomeBusy, "service busy, try again"))
			return
		}
		log.Error("execution fault", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse(OutcomeFault, "code execution failed: "+err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, NewExecuteResponse(res))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
