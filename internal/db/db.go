package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a queried row does not exist.
var ErrNotFound = errors.New("row not found")

// ErrConflict is returned when an insert violates a unique constraint, such
// as a second valid mapping for a Task or Question.
var ErrConflict = errors.New("unique constraint violated")

// DB wraps a database/sql connection pool for PostgreSQL.
type DB struct {
	Pool *sql.DB
}

// New opens and pings a PostgreSQL connection pool.
func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// NewWithPool wraps an existing pool.
func NewWithPool(pool *sql.DB) *DB {
	return &DB{Pool: pool}
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// classify maps driver errors onto package sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w (%s)", op, ErrConflict, pqErr.Constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS stage_conditions (
    id                TEXT PRIMARY KEY,
    stage_id          TEXT NOT NULL,
    workflow_id       TEXT NOT NULL DEFAULT '',
    name              TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    rules             JSONB NOT NULL DEFAULT '{}',
    actions           JSONB NOT NULL DEFAULT '[]',
    fallback_stage_id TEXT NOT NULL DEFAULT '',
    is_active         BOOLEAN NOT NULL DEFAULT TRUE,
    created_by        TEXT NOT NULL DEFAULT '',
    updated_by        TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_stage_conditions_active
    ON stage_conditions(stage_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS action_definitions (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    description   TEXT NOT NULL DEFAULT '',
    action_type   TEXT NOT NULL,
    action_config JSONB NOT NULL DEFAULT '{}',
    is_enabled    BOOLEAN NOT NULL DEFAULT TRUE,
    is_tools      BOOLEAN NOT NULL DEFAULT FALSE,
    is_valid      BOOLEAN NOT NULL DEFAULT TRUE,
    created_by    TEXT NOT NULL DEFAULT '',
    updated_by    TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS action_trigger_mappings (
    id                   TEXT PRIMARY KEY,
    action_definition_id TEXT NOT NULL REFERENCES action_definitions(id),
    trigger_type         TEXT NOT NULL,
    trigger_source_id    TEXT NOT NULL,
    trigger_source_name  TEXT NOT NULL DEFAULT '',
    workflow_id          TEXT NOT NULL DEFAULT '',
    stage_id             TEXT NOT NULL DEFAULT '',
    trigger_event        TEXT NOT NULL DEFAULT 'Completed',
    execution_order      INTEGER NOT NULL DEFAULT 0,
    is_enabled           BOOLEAN NOT NULL DEFAULT TRUE,
    is_valid             BOOLEAN NOT NULL DEFAULT TRUE,
    created_by           TEXT NOT NULL DEFAULT '',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_trigger_mappings_source
    ON action_trigger_mappings(trigger_type, trigger_source_id) WHERE is_valid;
CREATE UNIQUE INDEX IF NOT EXISTS uq_trigger_mappings_single_source
    ON action_trigger_mappings(trigger_type, trigger_source_id)
    WHERE is_valid AND trigger_type IN ('Task', 'Question');
CREATE INDEX IF NOT EXISTS idx_trigger_mappings_definition
    ON action_trigger_mappings(action_definition_id) WHERE is_valid;

CREATE TABLE IF NOT EXISTS action_executions (
    id                   TEXT PRIMARY KEY,
    action_definition_id TEXT NOT NULL,
    action_name          TEXT NOT NULL DEFAULT '',
    action_type          TEXT NOT NULL,
    execution_status     TEXT NOT NULL,
    started_at           TIMESTAMPTZ NOT NULL,
    completed_at         TIMESTAMPTZ,
    trigger_context      JSONB NOT NULL DEFAULT '{}',
    execution_output     JSONB,
    error_message        TEXT NOT NULL DEFAULT '',
    executed_by          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_action_executions_definition
    ON action_executions(action_definition_id, started_at DESC);

CREATE TABLE IF NOT EXISTS evaluation_logs (
    id             TEXT PRIMARY KEY,
    tenant_id      TEXT NOT NULL DEFAULT '',
    instance_id    TEXT NOT NULL,
    stage_id       TEXT NOT NULL,
    stage_name     TEXT NOT NULL DEFAULT '',
    condition_id   TEXT NOT NULL DEFAULT '',
    condition_name TEXT NOT NULL DEFAULT '',
    outcome        TEXT NOT NULL,
    fallback_taken BOOLEAN NOT NULL DEFAULT FALSE,
    next_stage_id  TEXT NOT NULL DEFAULT '',
    success        BOOLEAN NOT NULL DEFAULT FALSE,
    aborted        BOOLEAN NOT NULL DEFAULT FALSE,
    actions        JSONB NOT NULL DEFAULT '[]',
    triggered_by   TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_evaluation_logs_instance ON evaluation_logs(instance_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_evaluation_logs_created ON evaluation_logs(created_at);
`
