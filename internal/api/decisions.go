package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lauramurakaru/mdmp/internal/storage"
	"go.uber.org/zap"
)

func (d *Dependencies) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	params := storage.ListParams{
		ProjectID: projectID,
		Page:      queryInt(q, "page", 1),
		PageSize:  queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.PageSize < 1 {
		params.PageSize = 1
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("decision"); v != "" {
		params.Decision = &v
	}
	if v := q.Get("policy"); v != "" {
		params.Policy = &v
	}
	if v := q.Get("override_rule"); v != "" {
		params.OverrideRule = &v
	}
	if v := q.Get("participant_id"); v != "" {
		params.ParticipantID = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	records, total, err := d.Reader.ListDecisions(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list decisions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list decisions"})
		return
	}

	resp := DecisionListResp{
		Decisions: make([]DecisionResp, 0, len(records)),
		Total:     total,
		Page:      params.Page,
		PageSize:  params.PageSize,
	}
	for i := range records {
		resp.Decisions = append(resp.Decisions, recordToResp(&records[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("request_id")
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	rec, err := d.Reader.GetDecision(r.Context(), projectID, requestID)
	if err != nil {
		d.Logger.Error("failed to get decision", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get decision"})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Decision not found."})
		return
	}
	writeJSON(w, http.StatusOK, recordToResp(rec))
}

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	projectID := q.Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "project_id query parameter is required"})
		return
	}

	days := queryInt(q, "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), projectID, days)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}
	result.EnsureSlices()
	writeJSON(w, http.StatusOK, result)
}

func recordToResp(r *storage.DecisionRecord) DecisionResp {
	return DecisionResp{
		RequestID:            r.RequestID,
		ProjectID:            r.ProjectID,
		Timestamp:            r.Timestamp,
		Policy:               r.Policy,
		Scenario:             r.Scenario,
		Scores:               r.Scores,
		TotalScore:           r.TotalScore,
		Decision:             r.Decision,
		Reason:               r.Reason,
		OverrideRule:         nilIfEmpty(r.OverrideRule),
		ClassifierLabel:      nilIfEmpty(r.ClassifierLabel),
		ClassifierModel:      nilIfEmpty(r.ClassifierModel),
		PredictionAvailable:  r.PredictionAvailable,
		ParticipantID:        nilIfEmpty(r.ParticipantID),
		SessionID:            nilIfEmpty(r.SessionID),
		ScenarioIndex:        r.ScenarioIndex,
		ParticipantDecision:  nilIfEmpty(r.ParticipantDecision),
		DecisionTimeSeconds:  r.DecisionTimeSeconds,
		ConfirmationFeedback: nilIfEmpty(r.ConfirmationFeedback),
		AdditionalFeedback:   nilIfEmpty(r.AdditionalFeedback),
		LatencyMs:            r.LatencyMs,
		Source:               r.Source,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryInt(q url.Values, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
