// Package api serves the HTTP surface: scenario evaluation for projects and
// the admin endpoints for projects, policies and recorded decisions.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lauramurakaru/mdmp/internal/auth"
	"github.com/lauramurakaru/mdmp/internal/dataset"
	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"github.com/lauramurakaru/mdmp/internal/store"
	"go.uber.org/zap"
)

// ProjectStore is the subset of *store.Store used by the admin endpoints.
type ProjectStore interface {
	CreateProject(ctx context.Context, name, mode string) (*store.Project, *store.Policy, string, error)
	ListProjects(ctx context.Context, params store.ListProjectsParams) ([]*store.Project, int, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	UpdateProject(ctx context.Context, id string, params store.UpdateProjectParams) (*store.Project, error)
	DeleteProject(ctx context.Context, id string) (bool, error)
	RotateAPIKey(ctx context.Context, id string) (*store.Project, string, error)
	GetPolicy(ctx context.Context, projectID string) (*store.Policy, error)
	MergePolicy(ctx context.Context, projectID string, patch json.RawMessage) (*store.Policy, error)
	ReplacePolicy(ctx context.Context, projectID string, config json.RawMessage) (*store.Policy, error)
}

// DecisionReader serves recorded decisions. Implemented by *chread.Reader
// and *storage.SQLiteStore.
type DecisionReader interface {
	ListDecisions(ctx context.Context, params storage.ListParams) ([]storage.DecisionRecord, int, error)
	GetDecision(ctx context.Context, projectID, requestID string) (*storage.DecisionRecord, error)
	GetAnalytics(ctx context.Context, projectID string, days int) (*storage.Analytics, error)
}

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Auth         auth.Authenticator
	AuthCache    *auth.ProjectCache // invalidated per project after admin edits; nil for static auth
	Arbiter      *engine.Arbiter
	Store        ProjectStore // nil disables the admin endpoints
	Writer       storage.RecordWriter
	Reader       DecisionReader   // nil if no decision store is readable
	Dataset      *dataset.Dataset // nil disables /v1/scenarios/random
	BatchWorkers int
	CORSOrigins  []string // empty allows any origin
	Logger       *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	mux := http.NewServeMux()

	// Evaluation endpoints (auth required via Bearer msk_ token)
	mux.HandleFunc("POST /v1/evaluate", deps.authMiddleware(deps.handleEvaluate))
	mux.HandleFunc("POST /v1/evaluate/batch", deps.authMiddleware(deps.handleEvaluateBatch))
	mux.HandleFunc("POST /v1/score", deps.authMiddleware(deps.handleScore))
	mux.HandleFunc("GET /v1/attributes", deps.authMiddleware(deps.handleAttributes))
	mux.HandleFunc("GET /v1/scenarios/random", deps.authMiddleware(deps.handleRandomScenario))
	mux.HandleFunc("GET /v1/model", deps.authMiddleware(deps.handleModel))

	// Project CRUD (no auth, operator network only)
	mux.HandleFunc("POST /api/mdmp/projects", deps.requireStore(deps.handleCreateProject))
	mux.HandleFunc("GET /api/mdmp/projects", deps.requireStore(deps.handleListProjects))
	mux.HandleFunc("GET /api/mdmp/projects/{project_id}", deps.requireStore(deps.handleGetProject))
	mux.HandleFunc("PATCH /api/mdmp/projects/{project_id}", deps.requireStore(deps.handleUpdateProject))
	mux.HandleFunc("DELETE /api/mdmp/projects/{project_id}", deps.requireStore(deps.handleDeleteProject))
	mux.HandleFunc("POST /api/mdmp/projects/{project_id}/rotate-key", deps.requireStore(deps.handleRotateKey))

	// Policy CRUD (no auth)
	mux.HandleFunc("GET /api/mdmp/projects/{project_id}/policy", deps.requireStore(deps.handleGetPolicy))
	mux.HandleFunc("PUT /api/mdmp/projects/{project_id}/policy", deps.requireStore(deps.handleReplacePolicy))
	mux.HandleFunc("PATCH /api/mdmp/projects/{project_id}/policy", deps.requireStore(deps.handleUpdatePolicy))

	// Decisions & analytics (no auth)
	mux.HandleFunc("GET /api/mdmp/decisions", deps.requireReader(deps.handleListDecisions))
	mux.HandleFunc("GET /api/mdmp/decisions/{request_id}", deps.requireReader(deps.handleGetDecision))
	mux.HandleFunc("GET /api/mdmp/analytics", deps.requireReader(deps.handleGetAnalytics))

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(withRequestID(requestLogging(mux, deps.Logger)), deps.CORSOrigins)
}

func (d *Dependencies) requireStore(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Store == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
			return
		}
		next(w, r)
	}
}

func (d *Dependencies) requireReader(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Reader == nil {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Decision store not configured"})
			return
		}
		next(w, r)
	}
}
