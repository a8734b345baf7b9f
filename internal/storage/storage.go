// Package storage defines the submission record and the persistence
// interface its backends implement.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a submission does not exist for the user.
var ErrNotFound = errors.New("submission not found")

// Status is the persisted classification of a submission's execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// LanguagePython is the only language submissions are recorded in.
const LanguagePython = "python"

// Submission is a learner's graded attempt at a problem. It is written once,
// after its execution completes, and never modified.
type Submission struct {
	ID            int64     `json:"id" yaml:"id"`
	UserID        int64     `json:"user_id" yaml:"user_id"`
	ProblemID     int64     `json:"problem_id" yaml:"problem_id"`
	Code          string    `json:"code" yaml:"code"`
	Language      string    `json:"language" yaml:"language"`
	Status        Status    `json:"status" yaml:"status"`
	Output        string    `json:"output" yaml:"output"`
	Error         string    `json:"error,omitempty" yaml:"error,omitempty"`
	ExecutionTime *float64  `json:"execution_time" yaml:"execution_time"`
	Score         *int      `json:"score" yaml:"score"`
	IsCorrect     *bool     `json:"is_correct" yaml:"is_correct"`
	SubmittedAt   time.Time `json:"submitted_at" yaml:"submitted_at"`
}

// SubmissionListOptions controls filtering and pagination for ListSubmissions.
type SubmissionListOptions struct {
	UserID    int64 // required
	ProblemID int64 // 0 means all problems
	Limit     int
	Offset    int
}

// Store is the persistence interface for submissions.
type Store interface {
	// CreateSubmission inserts s, setting its ID, SubmittedAt and, when
	// empty, Language.
	CreateSubmission(ctx context.Context, s *Submission) error

	// GetSubmission returns the user's submission with the given ID, or
	// ErrNotFound.
	GetSubmission(ctx context.Context, userID, id int64) (*Submission, error)

	// ListSubmissions returns a user's submissions, newest first.
	ListSubmissions(ctx context.Context, opts SubmissionListOptions) ([]Submission, error)

	// Close releases resources.
	Close() error
}

// DefaultListLimit applies when SubmissionListOptions.Limit is not positive.
const DefaultListLimit = 50

// Prepare fills the fields a backend sets on insert.
func Prepare(s *Submission, now time.Time) {
	if s.Language == "" {
		s.Language = LanguagePython
	}
	s.SubmittedAt = now.UTC().Truncate(time.Microsecond)
}
