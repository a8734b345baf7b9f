// Package postgres implements storage.Store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/michaelbrown/pylab/internal/storage"
)

const connectTimeout = 3 * time.Second

const submissionColumns = `id, user_id, problem_id, code, language, status, output, error,
	execution_time, score, is_correct, submitted_at`

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to the database at dsn and runs migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{pool: pool, now: time.Now}, nil
}

func (s *Store) CreateSubmission(ctx context.Context, sub *storage.Submission) error {
	storage.Prepare(sub, s.now())

	err := s.pool.QueryRow(ctx, `
		INSERT INTO submissions (user_id, problem_id, code, language, status, output, error,
			execution_time, score, is_correct, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		sub.UserID, sub.ProblemID, sub.Code, sub.Language, string(sub.Status), sub.Output, sub.Error,
		sub.ExecutionTime, sub.Score, sub.IsCorrect, sub.SubmittedAt,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	return nil
}

func (s *Store) GetSubmission(ctx context.Context, userID, id int64) (*storage.Submission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 AND user_id = $2`, id, userID)

	sub, err := scanSubmission(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	return sub, nil
}

func (s *Store) ListSubmissions(ctx context.Context, opts storage.SubmissionListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE user_id = $1`
	args := []any{opts.UserID}

	if opts.ProblemID > 0 {
		args = append(args, opts.ProblemID)
		query += fmt.Sprintf(` AND problem_id = $%d`, len(args))
	}

	args = append(args, limit, opts.Offset)
	query += fmt.Sprintf(` ORDER BY submitted_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	var subs []storage.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanSubmission(row pgx.Row) (*storage.Submission, error) {
	var (
		sub    storage.Submission
		status string
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.ProblemID, &sub.Code, &sub.Language, &status,
		&sub.Output, &sub.Error, &sub.ExecutionTime, &sub.Score, &sub.IsCorrect, &sub.SubmittedAt)
	if err != nil {
		return nil, err
	}
	sub.Status = storage.Status(status)
	sub.SubmittedAt = sub.SubmittedAt.UTC()
	return &sub, nil
}
