// Package orchestrator validates learner code, sends it to the execution
// service and records submissions.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/michaelbrown/pylab/internal/runner"
	"github.com/michaelbrown/pylab/internal/sandbox"
	"github.com/michaelbrown/pylab/internal/storage"
)

// Executor is the execution service as seen from the orchestrator.
// *runner.Client implements it.
type Executor interface {
	Execute(ctx context.Context, code string, timeout time.Duration) (*runner.ExecuteResponse, error)
	Health(ctx context.Context) error
}

// Config holds orchestrator limits.
type Config struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxCodeLength  int           `mapstructure:"max_code_length"`
}

// SubmitResult is a stored submission together with the run that produced it.
type SubmitResult struct {
	Submission *storage.Submission     `json:"submission"`
	Execution  *runner.ExecuteResponse `json:"execution_result"`
}

// Service drives the try-it and submit flows. It is safe for concurrent use.
type Service struct {
	runner  Executor
	store   storage.Store
	log     *zap.Logger
	timeout time.Duration
	maxLen  int
}

// NewService creates a Service. Zero config fields take their defaults.
// store may be nil for callers that only Execute; Submit then fails with
// ErrNoStore before running anything.
func NewService(exec Executor, store storage.Store, log *zap.Logger, cfg Config) *Service {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = runner.DefaultTimeout
	}
	if cfg.MaxCodeLength <= 0 {
		cfg.MaxCodeLength = DefaultMaxCodeLength
	}
	return &Service{
		runner:  exec,
		store:   store,
		log:     log,
		timeout: cfg.DefaultTimeout,
		maxLen:  cfg.MaxCodeLength,
	}
}

// ValidateCode applies the service's configured length limit.
func (s *Service) ValidateCode(code string) error {
	return validateCode(code, s.maxLen)
}

// Execute runs code without recording anything. A nil error means the
// response describes the program, whatever its outcome; errors are either a
// *ValidationError or a transport classification from the runner package.
func (s *Service) Execute(ctx context.Context, code string) (*runner.ExecuteResponse, error) {
	log := s.log.With(zap.String("flow", "execute"))
	log.Debug("state", zap.String("state", "received"))

	if err := s.ValidateCode(code); err != nil {
		log.Debug("state", zap.String("state", "rejected"), zap.Error(err))
		return nil, err
	}
	log.Debug("state", zap.String("state", "validated"))

	return s.run(ctx, log, code)
}

// Submit validates, executes once and stores exactly one Submission for the
// completed run. Nothing is stored when the input is rejected or the
// execution service could not produce a result.
func (s *Service) Submit(ctx context.Context, userID, problemID int64, code string) (*SubmitResult, error) {
	log := s.log.With(zap.String("flow", "submit"), zap.Int64("user_id", userID), zap.Int64("problem_id", problemID))
	log.Debug("state", zap.String("state", "received"))

	if s.store == nil {
		return nil, ErrNoStore
	}

	err := validateProblemID(problemID)
	if err == nil {
		err = s.ValidateCode(code)
	}
	if err != nil {
		log.Debug("state", zap.String("state", "rejected"), zap.Error(err))
		return nil, err
	}
	log.Debug("state", zap.String("state", "validated"))

	resp, err := s.run(ctx, log, code)
	if err != nil {
		return nil, err
	}

	sub := &storage.Submission{
		UserID:    userID,
		ProblemID: problemID,
		Code:      code,
		Language:  storage.LanguagePython,
		Status:    StatusFor(resp),
		Output:    resp.Output,
		Error:     resp.ErrorText(),
	}
	elapsed := resp.ExecutionTime
	sub.ExecutionTime = &elapsed

	// The run already happened; a caller hanging up now should not lose
	// the record.
	if err := s.store.CreateSubmission(context.WithoutCancel(ctx), sub); err != nil {
		log.Error("saving submission", zap.Error(err))
		return nil, &PersistenceError{Result: resp, Err: err}
	}

	log.Info("submission recorded",
		zap.Int64("submission_id", sub.ID),
		zap.String("status", string(sub.Status)))
	return &SubmitResult{Submission: sub, Execution: resp}, nil
}

func (s *Service) run(ctx context.Context, log *zap.Logger, code string) (*runner.ExecuteResponse, error) {
	log.Debug("state", zap.String("state", "executing"), zap.Duration("timeout", s.timeout))

	resp, err := s.runner.Execute(ctx, code, s.timeout)
	if err != nil {
		log.Warn("execution service failure", zap.String("state", "execution_unreachable"), zap.Error(err))
		return nil, err
	}

	log.Debug("state",
		zap.String("state", "completed"),
		zap.String("outcome", string(resp.ProgramOutcome())),
		zap.Float64("execution_time", resp.ExecutionTime))
	return resp, nil
}

// RunnerHealthy reports whether the execution service answers its health check.
func (s *Service) RunnerHealthy(ctx context.Context) bool {
	if err := s.runner.Health(ctx); err != nil {
		s.log.Warn("execution service health check failed", zap.Error(err))
		return false
	}
	return true
}

// StatusFor maps a program outcome to the status stored on its Submission.
func StatusFor(resp *runner.ExecuteResponse) storage.Status {
	switch resp.ProgramOutcome() {
	case sandbox.OutcomeSuccess:
		return storage.StatusSuccess
	case sandbox.OutcomeTimeout:
		return storage.StatusTimeout
	default:
		return storage.StatusError
	}
}
