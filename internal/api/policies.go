package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/store"
	"go.uber.org/zap"
)

// parsePolicyConfig strictly decodes a decision_config object and checks the
// resulting thresholds against the server default.
func (d *Dependencies) parsePolicyConfig(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var pc engine.PolicyConfig
	if err := dec.Decode(&pc); err != nil {
		return fmt.Errorf("invalid decision_config: %v", err)
	}
	return pc.Validate(d.Arbiter.Thresholds())
}

func (d *Dependencies) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")
	policy, err := d.Store.GetPolicy(r.Context(), projectID)
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

func (d *Dependencies) handleReplacePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	dc := req.DecisionConfig
	if dc == nil {
		dc = json.RawMessage(`{}`)
	}
	if err := d.parsePolicyConfig(dc); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: err.Error()})
		return
	}

	policy, err := d.Store.ReplacePolicy(r.Context(), projectID, dc)
	if err != nil {
		d.Logger.Error("failed to replace policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to replace policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	d.forgetProject(projectID)
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

func (d *Dependencies) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("project_id")

	var req UpdatePolicyReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.DecisionConfig == nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "decision_config is required"})
		return
	}

	current, err := d.Store.GetPolicy(r.Context(), projectID)
	if err != nil {
		d.Logger.Error("failed to get policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update policy"})
		return
	}
	if current == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}

	// Validate the merged result, mirroring the shallow JSONB merge.
	merged, err := mergeObjects(current.DecisionConfig, req.DecisionConfig)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: err.Error()})
		return
	}
	if err := d.parsePolicyConfig(merged); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResp{Detail: err.Error()})
		return
	}

	policy, err := d.Store.MergePolicy(r.Context(), projectID, req.DecisionConfig)
	if err != nil {
		d.Logger.Error("failed to update policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update policy"})
		return
	}
	if policy == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Policy not found."})
		return
	}
	d.forgetProject(projectID)
	writeJSON(w, http.StatusOK, policyToResp(policy))
}

// mergeObjects overlays patch's top-level keys on base.
func mergeObjects(base, patch json.RawMessage) (json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if len(base) > 0 && string(base) != "null" {
		if err := json.Unmarshal(base, &out); err != nil {
			return nil, fmt.Errorf("stored decision_config is not an object: %v", err)
		}
	}
	var p map[string]json.RawMessage
	if err := json.Unmarshal(patch, &p); err != nil {
		return nil, fmt.Errorf("invalid decision_config: %v", err)
	}
	maps.Copy(out, p)
	return json.Marshal(out)
}

func policyToResp(p *store.Policy) PolicyResp {
	dc := p.DecisionConfig
	if dc == nil {
		dc = json.RawMessage(`{}`)
	}
	return PolicyResp{
		ID:             p.ID,
		ProjectID:      p.ProjectID,
		DecisionConfig: dc,
		Version:        p.Version,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}
