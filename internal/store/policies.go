package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Policy is a project's decision configuration. DecisionConfig has the
// engine.PolicyConfig shape; Version increases on every write.
type Policy struct {
	ID             string
	ProjectID      string
	DecisionConfig json.RawMessage
	Version        int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const policyColumns = `id, project_id, decision_config, version, created_at, updated_at`

func scanPolicy(row interface{ Scan(...any) error }, p *Policy) error {
	return row.Scan(&p.ID, &p.ProjectID, &p.DecisionConfig, &p.Version, &p.CreatedAt, &p.UpdatedAt)
}

func onePolicy(op string, row *sql.Row) (*Policy, error) {
	var p Policy
	err := scanPolicy(row, &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// GetPolicy returns the policy for a project, or nil if not found.
func (s *Store) GetPolicy(ctx context.Context, projectID string) (*Policy, error) {
	return onePolicy("GetPolicy", s.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM policies WHERE project_id = $1`, projectID))
}

// writePolicy sets decision_config to expr, where $2 is the JSON argument.
func (s *Store) writePolicy(ctx context.Context, op, expr, projectID string, arg json.RawMessage) (*Policy, error) {
	return onePolicy(op, s.db.QueryRowContext(ctx, `
		UPDATE policies SET
			decision_config = `+expr+`,
			version         = version + 1,
			updated_at      = now()
		WHERE project_id = $1
		RETURNING `+policyColumns,
		projectID, []byte(arg),
	))
}

// MergePolicy shallow-merges patch into the stored config (JSONB ||).
func (s *Store) MergePolicy(ctx context.Context, projectID string, patch json.RawMessage) (*Policy, error) {
	return s.writePolicy(ctx, "MergePolicy", `decision_config || $2::jsonb`, projectID, patch)
}

// ReplacePolicy replaces the stored config. Nil means {}.
func (s *Store) ReplacePolicy(ctx context.Context, projectID string, config json.RawMessage) (*Policy, error) {
	if config == nil {
		config = json.RawMessage(`{}`)
	}
	return s.writePolicy(ctx, "ReplacePolicy", `$2::jsonb`, projectID, config)
}
