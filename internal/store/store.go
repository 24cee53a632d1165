// Package store persists projects and their decision policies in PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Store provides access to the PostgreSQL database for project and policy CRUD.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Schema creates the projects and policies tables. Idempotent.
const Schema = `
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS projects (
	id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	name             TEXT NOT NULL,
	api_key_hash     TEXT NOT NULL,
	api_key_prefix   TEXT NOT NULL UNIQUE,
	mode             TEXT NOT NULL DEFAULT 'threshold' CHECK (mode IN ('threshold', 'classifier')),
	record_decisions BOOLEAN NOT NULL DEFAULT TRUE,
	key_rotated_at   TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS policies (
	id              UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	project_id      UUID NOT NULL UNIQUE REFERENCES projects(id) ON DELETE CASCADE,
	decision_config JSONB NOT NULL DEFAULT '{}'::jsonb,
	version         INTEGER NOT NULL DEFAULT 1,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS projects_mode_idx ON projects (mode);
`

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("Migrate: %w", err)
	}
	return nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
