package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schemaStatements create the pipeline tables when missing. Every statement is
// idempotent so EnsureSchema can run on each start.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS assignments (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    solution_file TEXT NOT NULL,
    tests_dir TEXT NOT NULL,
    common_header TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS tickets (
    id BIGINT PRIMARY KEY,
    course TEXT NOT NULL,
    username TEXT NOT NULL,
    assignment_id BIGINT NOT NULL REFERENCES assignments (id)
)`,
	`CREATE INDEX IF NOT EXISTS tickets_username_assignment_idx ON tickets (username, assignment_id)`,
	`CREATE TABLE IF NOT EXISTS blobs (
    id TEXT PRIMARY KEY,
    blob BYTEA NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS revisions (
    id BIGINT PRIMARY KEY,
    username TEXT NOT NULL,
    assignment_id BIGINT NOT NULL REFERENCES assignments (id),
    solution_id TEXT NOT NULL REFERENCES blobs (id),
    message TEXT,
    state TEXT NOT NULL DEFAULT 'new'
        CHECK (state IN ('new', 'checking', 'checked', 'failed', 'obsolete', 'reported')),
    check_result JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS revisions_assignment_state_idx ON revisions (assignment_id, state)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
