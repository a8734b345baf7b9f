package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaVersion = 1

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS submissions (
		id             BIGSERIAL PRIMARY KEY,
		user_id        BIGINT      NOT NULL,
		problem_id     BIGINT      NOT NULL,
		code           TEXT        NOT NULL,
		language       TEXT        NOT NULL DEFAULT 'python',
		status         TEXT        NOT NULL CHECK (status IN ('success','error','timeout')),
		output         TEXT        NOT NULL DEFAULT '',
		error          TEXT        NOT NULL DEFAULT '',
		execution_time DOUBLE PRECISION,
		score          INTEGER,
		is_correct     BOOLEAN,
		submitted_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_user_problem
		ON submissions (user_id, problem_id, submitted_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_submissions_user_submitted
		ON submissions (user_id, submitted_at DESC)`,
}

func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	err := pool.QueryRow(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&current)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if current < 1 {
		for _, stmt := range schemaV1 {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM schema_version`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, schemaVersion); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
