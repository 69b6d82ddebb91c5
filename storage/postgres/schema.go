package postgres

import (
	"context"
	"fmt"
)

const createReportsSQL = `CREATE TABLE IF NOT EXISTS %s (
    id             TEXT PRIMARY KEY,
    project_id     TEXT NOT NULL DEFAULT '',
    user_id        TEXT NOT NULL DEFAULT '',
    report_type    TEXT NOT NULL DEFAULT '',
    status         TEXT NOT NULL,
    plan           JSONB,
    sections       JSONB,
    status_changes JSONB,
    error          TEXT NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createReportsProjectIndexSQL = `CREATE INDEX IF NOT EXISTS idx_reportgen_reports_project
    ON %s (project_id)`

const createCheckpointsSQL = `CREATE TABLE IF NOT EXISTS %s (
    report_id TEXT PRIMARY KEY,
    node      TEXT NOT NULL,
    state     JSONB NOT NULL,
    saved_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createProjectsSQL = `CREATE TABLE IF NOT EXISTS %s (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    specs       JSONB,
    images      JSONB
)`

// EnsureSchema creates the tables if they do not already exist.
// Production deployments should manage the schema with migrations instead.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"reports table", fmt.Sprintf(createReportsSQL, s.reports)},
		{"reports project index", fmt.Sprintf(createReportsProjectIndexSQL, s.reports)},
		{"checkpoints table", fmt.Sprintf(createCheckpointsSQL, s.checkpoints)},
		{"projects table", fmt.Sprintf(createProjectsSQL, s.projects)},
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt.sql); err != nil {
			return fmt.Errorf("postgres: create %s: %w", stmt.name, err)
		}
	}
	return nil
}
