package orchestrator

import (
	"errors"
	"fmt"

	"github.com/michaelbrown/pylab/internal/runner"
)

// ErrSubmissionNotSaved marks a submit whose code ran but whose record could
// not be stored.
var ErrSubmissionNotSaved = errors.New("submission could not be saved")

// ErrNoStore is returned by Submit on a Service built without a store.
var ErrNoStore = errors.New("submissions are not recorded by this service")

// ValidationError rejects caller input before anything is executed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// PersistenceError carries the execution result of a submit whose record
// could not be saved. It matches ErrSubmissionNotSaved.
type PersistenceError struct {
	Result *runner.ExecuteResponse
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", ErrSubmissionNotSaved, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrSubmissionNotSaved }
