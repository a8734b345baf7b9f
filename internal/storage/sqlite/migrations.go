package sqlite

import "database/sql"

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id        INTEGER NOT NULL,
    problem_id     INTEGER NOT NULL,
    code           TEXT    NOT NULL,
    language       TEXT    NOT NULL DEFAULT 'python',
    status         TEXT    NOT NULL
                   CHECK(status IN ('success','error','timeout')),
    output         TEXT    NOT NULL DEFAULT '',
    error          TEXT    NOT NULL DEFAULT '',
    execution_time REAL,
    score          INTEGER,
    is_correct     INTEGER,
    submitted_at   TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_user_problem
    ON submissions(user_id, problem_id, submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_submissions_user_submitted
    ON submissions(user_id, submitted_at DESC);
`

func runMigrations(db *sql.DB) error {
	var current int
	row := db.QueryRow("SELECT version FROM schema_version LIMIT 1")
	if err := row.Scan(&current); err != nil {
		// No schema_version table yet: fresh database.
		current = 0
	}

	if current >= schemaVersion {
		return nil
	}

	if current < 1 {
		if _, err := db.Exec(schemaV1); err != nil {
			return err
		}
	}

	_, err := db.Exec(`
		DELETE FROM schema_version;
		INSERT INTO schema_version (version) VALUES (?);
	`, schemaVersion)
	return err
}
