package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefix starts every project API key.
const APIKeyPrefix = "msk_"

// KeyLookupLength is how many leading characters of a key are stored in
// clear for lookup.
const KeyLookupLength = 8

// Project is one deployment of the engine, typically a study arm.
type Project struct {
	ID              string
	Name            string
	APIKeyHash      string
	APIKeyPrefix    string
	Mode            string // "threshold" or "classifier"
	RecordDecisions bool
	KeyRotatedAt    *time.Time // nil until the first rotation
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ProjectWithPolicy is a Project joined with its decision config, as needed
// by authentication.
type ProjectWithPolicy struct {
	Project
	DecisionConfig json.RawMessage
}

// UpdateProjectParams holds optional fields for partial project updates.
type UpdateProjectParams struct {
	Name            *string
	Mode            *string
	RecordDecisions *bool
}

// ListProjectsParams filters and pages ListProjects. Zero values mean no
// filter and the default page.
type ListProjectsParams struct {
	Mode   string
	Name   string // case-insensitive substring
	Limit  int
	Offset int
}

const (
	defaultProjectPage = 50
	maxProjectPage     = 500
)

// GenerateAPIKey creates a new msk_ API key with its bcrypt hash and lookup
// prefix. The plaintext key is returned once and never stored.
func GenerateAPIKey() (key, hash, prefix string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	key = APIKeyPrefix + hex.EncodeToString(raw)

	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	return key, string(hashed), key[:KeyLookupLength], nil
}

const projectColumns = `id, name, api_key_hash, api_key_prefix, mode, record_decisions, key_rotated_at, created_at, updated_at`

func projectDest(p *Project) []any {
	return []any{&p.ID, &p.Name, &p.APIKeyHash, &p.APIKeyPrefix,
		&p.Mode, &p.RecordDecisions, &p.KeyRotatedAt, &p.CreatedAt, &p.UpdatedAt}
}

func scanProject(row interface{ Scan(...any) error }, p *Project) error {
	return row.Scan(projectDest(p)...)
}

// oneProject turns a single-row project query into the (nil, nil) not-found
// convention.
func oneProject(op string, row *sql.Row) (*Project, error) {
	var p Project
	err := scanProject(row, &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}

// CreateProject inserts a project and its empty policy together. An empty
// mode uses the column default. The plaintext API key is returned once.
func (s *Store) CreateProject(ctx context.Context, name, mode string) (*Project, *Policy, string, error) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}

	var (
		p   Project
		pol Policy
	)
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := scanProject(tx.QueryRowContext(ctx, `
			INSERT INTO projects (name, api_key_hash, api_key_prefix, mode)
			VALUES ($1, $2, $3, COALESCE(NULLIF($4, ''), 'threshold'))
			RETURNING `+projectColumns,
			name, hash, prefix, mode,
		), &p); err != nil {
			return err
		}
		return scanPolicy(tx.QueryRowContext(ctx, `
			INSERT INTO policies (project_id) VALUES ($1)
			RETURNING `+policyColumns,
			p.ID,
		), &pol)
	})
	if err != nil {
		return nil, nil, "", fmt.Errorf("CreateProject: %w", err)
	}
	return &p, &pol, key, nil
}

// projectListQuery builds the WHERE clause and arguments for ListProjects.
func projectListQuery(params ListProjectsParams) (where string, args []any) {
	var conds []string
	if params.Mode != "" {
		args = append(args, params.Mode)
		conds = append(conds, fmt.Sprintf("mode = $%d", len(args)))
	}
	if params.Name != "" {
		args = append(args, "%"+params.Name+"%")
		conds = append(conds, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (p ListProjectsParams) page() (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = defaultProjectPage
	}
	limit = min(limit, maxProjectPage)
	return limit, max(p.Offset, 0)
}

// ListProjects returns one page of projects, newest first, and the number
// of projects matching the filter.
func (s *Store) ListProjects(ctx context.Context, params ListProjectsParams) ([]*Project, int, error) {
	where, args := projectListQuery(params)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM projects`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListProjects: %w", err)
	}

	limit, offset := params.page()
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM projects%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
			projectColumns, where, len(args)-1, len(args)),
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListProjects: %w", err)
	}
	defer rows.Close()

	projects := make([]*Project, 0, limit)
	for rows.Next() {
		var p Project
		if err := scanProject(rows, &p); err != nil {
			return nil, 0, fmt.Errorf("ListProjects: %w", err)
		}
		projects = append(projects, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ListProjects: %w", err)
	}
	return projects, total, nil
}

// GetProject returns a project by ID, or nil if not found.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	return oneProject("GetProject", s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
}

// UpdateProject changes only the non-nil fields. Returns nil if the project
// does not exist.
func (s *Store) UpdateProject(ctx context.Context, id string, params UpdateProjectParams) (*Project, error) {
	return oneProject("UpdateProject", s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			name             = COALESCE($2, name),
			mode             = COALESCE($3, mode),
			record_decisions = COALESCE($4, record_decisions),
			updated_at       = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, params.Name, params.Mode, params.RecordDecisions,
	))
}

// DeleteProject removes a project and, by cascade, its policy. It reports
// whether a row was deleted.
func (s *Store) DeleteProject(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("DeleteProject: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("DeleteProject: %w", err)
	}
	return n > 0, nil
}

// RotateAPIKey replaces a project's key. The old key stops working as soon
// as auth caches are invalidated. Returns a nil project if it does not exist.
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Project, string, error) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	p, err := oneProject("RotateAPIKey", s.db.QueryRowContext(ctx, `
		UPDATE projects SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			key_rotated_at = now(),
			updated_at     = now()
		WHERE id = $1
		RETURNING `+projectColumns,
		id, hash, prefix,
	))
	if p == nil || err != nil {
		return nil, "", err
	}
	return p, key, nil
}

// LookupByPrefix finds the project owning an API key prefix, joined with
// its decision config. Auth narrows candidates with it before bcrypt.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*ProjectWithPolicy, error) {
	var pw ProjectWithPolicy
	dest := append(projectDest(&pw.Project), &pw.DecisionConfig)
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.name, p.api_key_hash, p.api_key_prefix, p.mode, p.record_decisions,
		       p.key_rotated_at, p.created_at, p.updated_at,
		       COALESCE(pol.decision_config, '{}')
		FROM projects p
		LEFT JOIN policies pol ON pol.project_id = p.id
		WHERE p.api_key_prefix = $1`, prefix,
	).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &pw, nil
}
