package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ProjectStore abstracts DB queries for testability. *store.Store
// implements it; a nil row means no project has the prefix.
type ProjectStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*store.ProjectWithPolicy, error)
}

// PostgresAuthenticator validates API keys against the projects table.
// Resolved keys are kept in a ProjectCache so bcrypt runs once per key per TTL.
// Auth failures always return an error; nothing is evaluated without a valid key.
type PostgresAuthenticator struct {
	store  ProjectStore
	cache  *ProjectCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	Store     ProjectStore
	CacheTTL  time.Duration // Default: 30s
	CacheSize int           // Default: DefaultCacheSize
	Logger    *zap.Logger
}

// NewPostgresAuthenticator creates a new authenticator backed by PostgreSQL.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return newPostgresAuthenticatorWithStore(cfg.Store, NewProjectCache(ttl, cfg.CacheSize), cfg.Logger)
}

func newPostgresAuthenticatorWithStore(store ProjectStore, cache *ProjectCache, logger *zap.Logger) *PostgresAuthenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresAuthenticator{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Cache exposes the cache so admin edits can invalidate it.
func (a *PostgresAuthenticator) Cache() *ProjectCache {
	return a.cache
}

// Authenticate validates the API key against the database.
//
// Flow:
//  1. Format check (msk_ prefix)
//  2. Cache lookup: fresh and refreshing entries are returned as is, a
//     stale entry is returned and refreshed in the background, a miss does
//     the DB + bcrypt lookup synchronously
//  3. DB errors surface as ErrAuthUnavailable
func (a *PostgresAuthenticator) Authenticate(ctx context.Context, apiKey string) (*ProjectContext, error) {
	if !ValidKeyFormat(apiKey) {
		return nil, ErrInvalidAPIKey
	}

	switch project, state := a.cache.Lookup(apiKey); state {
	case CacheFresh, CacheRefreshing:
		return project, nil
	case CacheStale:
		go a.backgroundRefresh(apiKey)
		return project, nil
	}

	project, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		return a.handleLookupError(err)
	}

	a.cache.Store(apiKey, project)
	return project, nil
}

// backgroundRefresh performs the DB + bcrypt lookup in a background goroutine.
// Errors are logged but don't affect the caller (they already got the stale value).
func (a *PostgresAuthenticator) backgroundRefresh(apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	project, err := a.lookupAndVerify(ctx, apiKey)
	if err != nil {
		a.logger.Warn("background cache refresh failed",
			zap.Error(err),
		)
		// Drop the entry so the next request does a synchronous lookup.
		a.cache.Forget(apiKey)
		return
	}

	a.cache.Store(apiKey, project)
}

// lookupAndVerify does the full DB prefix lookup + bcrypt verification + policy parsing.
func (a *PostgresAuthenticator) lookupAndVerify(ctx context.Context, apiKey string) (*ProjectContext, error) {
	row, err := a.store.LookupByPrefix(ctx, apiKey[:store.KeyLookupLength])
	if err != nil {
		return nil, fmt.Errorf("lookupAndVerify: %w", err)
	}
	if row == nil {
		return nil, ErrInvalidAPIKey
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(apiKey)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	policy, err := engine.ParsePolicy(row.Mode)
	if err != nil {
		a.logger.Warn("unknown project mode, using threshold policy",
			zap.String("project_id", row.ID),
			zap.String("mode", row.Mode),
		)
		policy = engine.PolicyThreshold
	}

	config, err := ParseDecisionConfig(row.DecisionConfig)
	if err != nil {
		a.logger.Warn("failed to parse decision_config, using defaults",
			zap.String("project_id", row.ID),
			zap.Error(err),
		)
	}

	return &ProjectContext{
		ProjectID:       row.ID,
		Policy:          policy,
		RecordDecisions: row.RecordDecisions,
		Config:          config,
	}, nil
}

// handleLookupError maps lookup failures to ErrInvalidAPIKey or ErrAuthUnavailable.
func (a *PostgresAuthenticator) handleLookupError(lookupErr error) (*ProjectContext, error) {
	if errors.Is(lookupErr, ErrInvalidAPIKey) {
		return nil, ErrInvalidAPIKey
	}

	a.logger.Warn("auth DB unreachable",
		zap.Error(lookupErr),
	)
	return nil, fmt.Errorf("%w: %v", ErrAuthUnavailable, lookupErr)
}

// ParseDecisionConfig decodes a decision_config JSONB value. Empty, "{}" and
// "null" yield a nil config (server defaults).
func ParseDecisionConfig(raw json.RawMessage) (*engine.PolicyConfig, error) {
	if len(raw) == 0 || string(raw) == "{}" || string(raw) == "null" {
		return nil, nil
	}
	var pc engine.PolicyConfig
	if err := json.Unmarshal(raw, &pc); err != nil {
		return nil, fmt.Errorf("ParseDecisionConfig: %w", err)
	}
	return &pc, nil
}
