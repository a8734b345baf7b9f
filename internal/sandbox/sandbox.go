package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request describes one execution of untrusted source text.
type Request struct {
	Code    string
	Timeout time.Duration // zero selects the policy default
}

// Outcome classifies how a program run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success" // exited 0 within budget
	OutcomeFailure Outcome = "failure" // exited non-zero or was killed by a signal
	OutcomeTimeout Outcome = "timeout" // budget exceeded, process tree killed
)

// Result is the report of a completed program run. Infrastructure faults are
// returned as errors instead, so every Result describes the program itself.
type Result struct {
	Outcome   Outcome
	Stdout    string
	Stderr    string
	ExitCode  int
	Duration  time.Duration // measured wall clock; equals Timeout on timeout
	Timeout   time.Duration // budget actually applied after clamping
	Truncated bool          // stdout or stderr exceeded the capture limit
}

// Succeeded reports whether the program exited 0 without timing out.
func (r *Result) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// ErrorMessage returns the text reported to learners as the run's error:
// the timeout notice, or stderr for everything else.
func (r *Result) ErrorMessage() string {
	if r.Outcome == OutcomeTimeout {
		return TimeoutMessage(r.Timeout)
	}
	return r.Stderr
}

// TimeoutMessage is the error text for a run that exceeded budget.
func TimeoutMessage(budget time.Duration) string {
	return fmt.Sprintf("execution timed out after %g seconds", budget.Seconds())
}

var (
	// ErrFault marks failures of the sandbox itself (workspace, spawn), as
	// opposed to failures of the submitted program.
	ErrFault = errors.New("sandbox fault")

	// ErrBusy is returned when no execution slot frees up within the queue wait.
	ErrBusy = errors.New("service busy")
)

// FaultError wraps an infrastructure failure. It matches ErrFault.
type FaultError struct {
	Op  string
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("sandbox: %s: %v", e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

func (e *FaultError) Is(target error) bool { return target == ErrFault }

func fault(op string, err error) error {
	return &FaultError{Op: op, Err: err}
}

// Sandbox runs code in an isolated environment.
type Sandbox interface {
	Run(ctx context.Context, req Request) (*Result, error)
}
