package api

import (
	"fmt"
	"net/http"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/store"
	"go.uber.org/zap"
)

const maxProjectName = 255

// projectFieldProblem returns a client-facing message for an invalid name
// or mode, or "" when both are acceptable. Nil fields are not checked.
func projectFieldProblem(name, mode *string) string {
	if name != nil && (*name == "" || len(*name) > maxProjectName) {
		return fmt.Sprintf("name must be 1-%d characters", maxProjectName)
	}
	if mode != nil && *mode != "" {
		if _, err := engine.ParsePolicy(*mode); err != nil {
			return fmt.Sprintf("mode must be %q or %q", engine.PolicyThreshold, engine.PolicyClassifier)
		}
	}
	return ""
}

// storeFailure logs err and answers 500 with a generic message.
func (d *Dependencies) storeFailure(w http.ResponseWriter, action, projectID string, err error) {
	d.Logger.Error("project store failed",
		zap.String("action", action),
		zap.String("project_id", projectID),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to " + action})
}

func writeProjectNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Project not found."})
}

func (d *Dependencies) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if msg := projectFieldProblem(&req.Name, &req.Mode); msg != "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: msg})
		return
	}

	project, _, key, err := d.Store.CreateProject(r.Context(), req.Name, req.Mode)
	if err != nil {
		d.storeFailure(w, "create project", "", err)
		return
	}
	d.Logger.Info("project created",
		zap.String("project_id", project.ID),
		zap.String("mode", project.Mode),
	)

	writeJSON(w, http.StatusCreated, CreateProjectResp{
		ID:              project.ID,
		Name:            project.Name,
		APIKey:          key,
		APIKeyPrefix:    project.APIKeyPrefix,
		Mode:            project.Mode,
		RecordDecisions: project.RecordDecisions,
		CreatedAt:       project.CreatedAt,
	})
}

// handleListProjects serves GET /api/mdmp/projects?mode=&name=&limit=&offset=.
func (d *Dependencies) handleListProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := store.ListProjectsParams{
		Mode:   q.Get("mode"),
		Name:   q.Get("name"),
		Limit:  min(max(queryInt(q, "limit", 50), 1), 500),
		Offset: max(queryInt(q, "offset", 0), 0),
	}
	if params.Mode != "" {
		if msg := projectFieldProblem(nil, &params.Mode); msg != "" {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: msg})
			return
		}
	}

	projects, total, err := d.Store.ListProjects(r.Context(), params)
	if err != nil {
		d.storeFailure(w, "list projects", "", err)
		return
	}

	resp := ProjectListResp{
		Projects: make([]ProjectResp, 0, len(projects)),
		Total:    total,
		Limit:    params.Limit,
		Offset:   params.Offset,
	}
	for _, p := range projects {
		resp.Projects = append(resp.Projects, projectToResp(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")
	project, err := d.Store.GetProject(r.Context(), id)
	if err != nil {
		d.storeFailure(w, "get project", id, err)
		return
	}
	if project == nil {
		writeProjectNotFound(w)
		return
	}
	writeJSON(w, http.StatusOK, projectToResp(project))
}

func (d *Dependencies) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")

	var req UpdateProjectReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Mode != nil && *req.Mode == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "mode must not be empty"})
		return
	}
	if msg := projectFieldProblem(req.Name, req.Mode); msg != "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: msg})
		return
	}

	project, err := d.Store.UpdateProject(r.Context(), id, store.UpdateProjectParams{
		Name:            req.Name,
		Mode:            req.Mode,
		RecordDecisions: req.RecordDecisions,
	})
	if err != nil {
		d.storeFailure(w, "update project", id, err)
		return
	}
	if project == nil {
		writeProjectNotFound(w)
		return
	}
	d.forgetProject(id)
	writeJSON(w, http.StatusOK, projectToResp(project))
}

func (d *Dependencies) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")
	found, err := d.Store.DeleteProject(r.Context(), id)
	if err != nil {
		d.storeFailure(w, "delete project", id, err)
		return
	}
	if !found {
		writeProjectNotFound(w)
		return
	}
	d.forgetProject(id)
	d.Logger.Info("project deleted", zap.String("project_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (d *Dependencies) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("project_id")
	project, key, err := d.Store.RotateAPIKey(r.Context(), id)
	if err != nil {
		d.storeFailure(w, "rotate API key", id, err)
		return
	}
	if project == nil {
		writeProjectNotFound(w)
		return
	}
	d.forgetProject(id)
	d.Logger.Info("api key rotated", zap.String("project_id", id))

	writeJSON(w, http.StatusOK, RotateKeyResp{
		APIKey:       key,
		APIKeyPrefix: project.APIKeyPrefix,
		RotatedAt:    project.KeyRotatedAt,
	})
}

func projectToResp(p *store.Project) ProjectResp {
	return ProjectResp{
		ID:              p.ID,
		Name:            p.Name,
		APIKeyPrefix:    p.APIKeyPrefix,
		Mode:            p.Mode,
		RecordDecisions: p.RecordDecisions,
		KeyRotatedAt:    p.KeyRotatedAt,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}
