package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/orchestrator"
	"github.com/michaelbrown/pylab/internal/runner"
)

const maxRequestBytes = 1 << 20

// response is the envelope of every API answer.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, response{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(v)
}

// failure maps a service error to a status and a caller-safe message.
// Operational faults never expose internal detail.
func failure(err error) (int, string) {
	var verr *orchestrator.ValidationError
	var serr *runner.ServiceError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, verr.Reason
	case errors.Is(err, orchestrator.ErrSubmissionNotSaved):
		return http.StatusInternalServerError, orchestrator.ErrSubmissionNotSaved.Error()
	case errors.Is(err, runner.ErrServiceBusy):
		return http.StatusServiceUnavailable, "execution service busy, try again"
	case errors.Is(err, runner.ErrServiceTimeout):
		return http.StatusGatewayTimeout, "execution service timed out, try again"
	case errors.Is(err, runner.ErrServiceUnreachable):
		return http.StatusBadGateway, "execution service unreachable, try again"
	case errors.As(err, &serr):
		return http.StatusBadGateway, "execution service error, try again"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := failure(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("status", status),
			zap.Error(err))
	}

	resp := response{Error: msg}
	var perr *orchestrator.PersistenceError
	if errors.As(err, &perr) {
		resp.Data = map[string]any{"execution_result": perr.Result}
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}

// --- Submission handlers ---

type executeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.svc.Execute(r.Context(), req.Code)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Success: true, Data: res})
}

type submitRequest struct {
	ProblemID int64  `json:"problem_id"`
	Code      string `json:"code"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.svc.Submit(r.Context(), userID(r.Context()), req.ProblemID, req.Code)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{Success: true, Data: res})
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":  "healthy",
		"service": "orchestrator",
		"runner":  "healthy",
	}
	status := http.StatusOK

	if !s.svc.RunnerHealthy(r.Context()) {
		body["status"] = "degraded"
		body["runner"] = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}
