// Package runner is the HTTP boundary of the execution service: the server
// that wraps a sandbox and the client the orchestrator uses to reach it.
package runner

import (
	"math"
	"strings"
	"time"

	"github.com/michaelbrown/pylab/internal/sandbox"
)

// Outcome values carried in ExecuteResponse.Outcome. The first three mirror
// sandbox outcomes; fault and busy only appear on non-200 responses.
const (
	OutcomeSuccess = string(sandbox.OutcomeSuccess)
	OutcomeFailure = string(sandbox.OutcomeFailure)
	OutcomeTimeout = string(sandbox.OutcomeTimeout)
	OutcomeFault   = "fault"
	OutcomeBusy    = "busy"
)

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout" validate:"gte=0"` // seconds; 0 selects the runner default
}

// maxTimeoutSeconds keeps the requested budget representable as a
// time.Duration; the sandbox policy clamps it further.
const maxTimeoutSeconds = math.MaxInt64 / int64(time.Second)

// Budget converts the requested timeout to a duration without overflowing.
func (r ExecuteRequest) Budget() time.Duration {
	return time.Duration(min(int64(r.Timeout), maxTimeoutSeconds)) * time.Second
}

// ExecuteResponse is the body returned by POST /execute.
type ExecuteResponse struct {
	Success       bool    `json:"success"`
	Output        string  `json:"output"`
	Error         *string `json:"error"`
	ExecutionTime float64 `json:"execution_time"`
	Outcome       string  `json:"outcome,omitempty"`
	Truncated     bool    `json:"truncated,omitempty"`
}

// ErrorText returns the error message or "" when absent.
func (r *ExecuteResponse) ErrorText() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// ProgramOutcome classifies a 200 response. Runners that predate the
// outcome field are classified from success and the timeout notice.
func (r *ExecuteResponse) ProgramOutcome() sandbox.Outcome {
	switch r.Outcome {
	case OutcomeSuccess:
		return sandbox.OutcomeSuccess
	case OutcomeTimeout:
		return sandbox.OutcomeTimeout
	case OutcomeFailure:
		return sandbox.OutcomeFailure
	}
	if r.Success {
		return sandbox.OutcomeSuccess
	}
	if strings.HasPrefix(r.ErrorText(), "execution timed out") {
		return sandbox.OutcomeTimeout
	}
	return sandbox.OutcomeFailure
}

// NewExecuteResponse converts a sandbox result to its wire form.
func NewExecuteResponse(res *sandbox.Result) ExecuteResponse {
	resp := ExecuteResponse{
		Success:       res.Succeeded(),
		Output:        res.Stdout,
		ExecutionTime: res.Duration.Seconds(),
		Outcome:       string(res.Outcome),
		Truncated:     res.Truncated,
	}
	if msg := res.ErrorMessage(); msg != "" {
		resp.Error = &msg
	}
	return resp
}

func errorResponse(outcome, msg string) ExecuteResponse {
	return ExecuteResponse{Outcome: outcome, Error: &msg}
}
