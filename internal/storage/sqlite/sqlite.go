// Package sqlite implements storage.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/michaelbrown/pylab/internal/storage"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

const submissionColumns = `id, user_id, problem_id, code, language, status, output, error,
	execution_time, score, is_correct, submitted_at`

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Each connection to ":memory:" is a separate database, and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *storage.Submission) error {
	storage.Prepare(sub, s.now())

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO submissions (user_id, problem_id, code, language, status, output, error,
			execution_time, score, is_correct, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.UserID, sub.ProblemID, sub.Code, sub.Language, string(sub.Status), sub.Output, sub.Error,
		sub.ExecutionTime, sub.Score, sub.IsCorrect, sub.SubmittedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading submission id: %w", err)
	}
	sub.ID = id
	return nil
}

func (s *SQLiteStore) GetSubmission(ctx context.Context, userID, id int64) (*storage.Submission, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = ? AND user_id = ?`, id, userID)

	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission: %w", err)
	}
	return sub, nil
}

func (s *SQLiteStore) ListSubmissions(ctx context.Context, opts storage.SubmissionListOptions) ([]storage.Submission, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE user_id = ?`
	args := []any{opts.UserID}

	if opts.ProblemID > 0 {
		query += ` AND problem_id = ?`
		args = append(args, opts.ProblemID)
	}

	query += ` ORDER BY submitted_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubmission(sc scanner) (*storage.Submission, error) {
	var (
		sub         storage.Submission
		status      string
		elapsed     sql.NullFloat64
		score       sql.NullInt64
		isCorrect   sql.NullBool
		submittedAt string
	)
	err := sc.Scan(&sub.ID, &sub.UserID, &sub.ProblemID, &sub.Code, &sub.Language, &status,
		&sub.Output, &sub.Error, &elapsed, &score, &isCorrect, &submittedAt)
	if err != nil {
		return nil, err
	}

	sub.Status = storage.Status(status)
	if elapsed.Valid {
		sub.ExecutionTime = &elapsed.Float64
	}
	if score.Valid {
		v := int(score.Int64)
		sub.Score = &v
	}
	if isCorrect.Valid {
		sub.IsCorrect = &isCorrect.Bool
	}
	if sub.SubmittedAt, err = time.Parse(timeLayout, submittedAt); err != nil {
		return nil, fmt.Errorf("parsing submitted_at %q: %w", submittedAt, err)
	}
	return &sub, nil
}
