package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lauramurakaru/mdmp/internal/dataset"
	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"
)

const maxBatchSize = 500

// handleEvaluate implements POST /v1/evaluate.
// Auth middleware has already validated the Bearer token and injected the project.
func (d *Dependencies) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeValidated(w, r, func() *jsonschema.Schema { return evaluateSchema }, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	res, err := d.Arbiter.DecideWith(r.Context(), scenarioStrings(req.Scenario), proj.Policy, proj.Options(d.Arbiter.Thresholds()))
	if err != nil {
		d.writeEngineError(w, err)
		return
	}

	requestID := requestIDFromContext(r.Context())

	if proj.RecordDecisions && d.Writer != nil {
		d.Writer.Write(storage.NewDecisionRecord(requestID, proj.ProjectID, res, req.Feedback, "http"))
	}

	d.Logger.Debug("scenario evaluated",
		zap.String("request_id", requestID),
		zap.String("project_id", proj.ProjectID),
		zap.String("decision", res.Decision.String()),
		zap.Int("total_score", res.Scored.Total),
	)

	writeJSON(w, http.StatusOK, resultToResp(requestID, res))
}

// handleEvaluateBatch implements POST /v1/evaluate/batch. Items fail
// individually; the response keeps input order.
func (d *Dependencies) handleEvaluateBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchEvaluateRequest
	if err := decodeValidated(w, r, func() *jsonschema.Schema { return batchSchema }, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	proj := projectFromContext(r.Context())
	if proj == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing project context"})
		return
	}

	raws := make([]map[string]string, len(req.Scenarios))
	for i, s := range req.Scenarios {
		raws[i] = scenarioStrings(s)
	}

	items, elapsed := d.Arbiter.EvaluateBatch(r.Context(), raws, proj.Policy, proj.Options(d.Arbiter.Thresholds()), d.BatchWorkers)

	resp := BatchEvaluateResponse{
		Results:   make([]BatchItemResp, 0, len(items)),
		LatencyMs: float64(elapsed) / float64(time.Millisecond),
	}
	for _, item := range items {
		if item.Err != nil {
			e := engineErrorResp(item.Err)
			resp.Results = append(resp.Results, BatchItemResp{Index: item.Index, Error: &e})
			continue
		}
		requestID := uuid.New().String()
		if proj.RecordDecisions && d.Writer != nil {
			d.Writer.Write(storage.NewDecisionRecord(requestID, proj.ProjectID, item.Result, nil, "http"))
		}
		er := resultToResp(requestID, item.Result)
		resp.Results = append(resp.Results, BatchItemResp{Index: item.Index, Result: &er})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleScore implements POST /v1/score: scoring only, no decision.
func (d *Dependencies) handleScore(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := decodeValidated(w, r, func() *jsonschema.Schema { return evaluateSchema }, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	s, err := engine.NewScenario(scenarioStrings(req.Scenario))
	if err != nil {
		d.writeEngineError(w, err)
		return
	}
	scored, err := engine.Score(s)
	if err != nil {
		d.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreToResp(scored))
}

// handleAttributes implements GET /v1/attributes: the score table.
func (d *Dependencies) handleAttributes(w http.ResponseWriter, _ *http.Request) {
	attrs := engine.Attributes()
	resp := make([]AttributeResp, 0, len(attrs))
	for _, a := range attrs {
		domain := engine.Domain(a)
		values := make([]AttributeValueResp, 0, len(domain))
		for _, v := range domain {
			score, err := engine.Lookup(a, v)
			if err != nil {
				continue
			}
			values = append(values, AttributeValueResp{Value: v, Score: score})
		}
		resp = append(resp, AttributeResp{Key: a.Key(), ScoreKey: a.ScoreKey(), Values: values})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRandomScenario implements GET /v1/scenarios/random[?seed=N].
func (d *Dependencies) handleRandomScenario(w http.ResponseWriter, r *http.Request) {
	if d.Dataset == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Dataset not configured"})
		return
	}

	seed := uint64(time.Now().UnixNano())
	if v := r.URL.Query().Get("seed"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "seed must be a non-negative integer"})
			return
		}
		seed = parsed
	}

	row, err := d.Dataset.Random(dataset.NewRand(seed))
	if err != nil {
		if errors.Is(err, dataset.ErrEmpty) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Dataset has no rows"})
			return
		}
		d.Logger.Error("failed to sample scenario", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to sample scenario"})
		return
	}

	writeJSON(w, http.StatusOK, RandomScenarioResp{
		Line:      row.Line,
		Scenario:  row.Scenario.Raw(),
		ScoreResp: scoreToResp(row.Scored),
	})
}

// handleModel implements GET /v1/model.
func (d *Dependencies) handleModel(w http.ResponseWriter, r *http.Request) {
	adapter := d.Arbiter.Classifier()
	if adapter == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No classifier configured"})
		return
	}

	resp := ModelResp{
		Model:             adapter.Model(),
		Columns:           adapter.Schema(),
		UnresolvedColumns: adapter.UnresolvedColumns(),
	}
	if resp.UnresolvedColumns == nil {
		resp.UnresolvedColumns = []string{}
	}
	importances, err := adapter.FeatureImportances(r.Context())
	if err != nil {
		d.Logger.Warn("feature importances unavailable", zap.Error(err))
		msg := err.Error()
		resp.ImportancesError = &msg
	} else {
		resp.Importances = importances
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- conversions ---

func scoreToResp(sc *engine.ScoredScenario) ScoreResp {
	pcts := engine.PercentageContribution(sc)
	out := ScoreResp{
		Scores:      sc.Features(),
		TotalScore:  sc.Total,
		Percentages: make(map[string]float64, len(pcts)),
	}
	for a, p := range pcts {
		out.Percentages[a.Key()] = p
	}
	return out
}

func resultToResp(requestID string, res *engine.Result) EvaluateResponse {
	resp := EvaluateResponse{
		RequestID: requestID,
		Decision:  res.Decision.String(),
		Reason:    res.Reason,
		Policy:    res.Policy.String(),
		Thresholds: ThresholdsResp{
			Engage:           res.Thresholds.Engage,
			AskAuthorization: res.Thresholds.AskAuthorization,
			DoNotKnow:        res.Thresholds.DoNotKnow,
		},
		ScoreResp: scoreToResp(res.Scored),
		LatencyMs: float64(res.Latency) / float64(time.Millisecond),
	}
	if res.Override.Matched {
		rule := res.Override.Rule
		resp.OverrideRule = &rule
	}
	if res.ClassifierConsulted {
		resp.Classifier = &ClassifierResp{
			Model:               res.ClassifierModel,
			PredictionAvailable: res.PredictionAvailable,
			Label:               res.ClassifierLabel,
			Code:                res.ClassifierCode,
		}
	}
	return resp
}

// engineErrorResp maps scenario validation errors to a client error body.
func engineErrorResp(err error) ErrorResp {
	resp := ErrorResp{Detail: err.Error()}
	var (
		unmapped  *engine.UnmappedValueError
		malformed *engine.MalformedRangeError
		missing   *engine.MissingAttributeError
		unknown   *engine.UnknownAttributeError
	)
	switch {
	case errors.As(err, &unmapped):
		resp.Attribute = strPtr(unmapped.Attribute.Key())
		resp.Value = strPtr(unmapped.Value)
	case errors.As(err, &malformed):
		resp.Attribute = strPtr(engine.AttrCivilianPresence.Key())
		resp.Value = strPtr(malformed.Value)
	case errors.As(err, &missing):
		resp.Attribute = strPtr(missing.Attribute.Key())
	case errors.As(err, &unknown):
		resp.Attribute = strPtr(unknown.Key)
	}
	return resp
}

func isValidationError(err error) bool {
	var (
		unmapped  *engine.UnmappedValueError
		malformed *engine.MalformedRangeError
		missing   *engine.MissingAttributeError
		unknown   *engine.UnknownAttributeError
	)
	return errors.As(err, &unmapped) || errors.As(err, &malformed) ||
		errors.As(err, &missing) || errors.As(err, &unknown)
}

func (d *Dependencies) writeEngineError(w http.ResponseWriter, err error) {
	if isValidationError(err) {
		writeJSON(w, http.StatusUnprocessableEntity, engineErrorResp(err))
		return
	}
	var order *engine.ThresholdOrderError
	if errors.As(err, &order) {
		d.Logger.Warn("project thresholds conflict with server defaults", zap.Error(err))
		writeJSON(w, http.StatusConflict, ErrorResp{
			Detail: "Project policy conflicts with the server threshold defaults: " + order.Error(),
		})
		return
	}
	d.Logger.Error("evaluation failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Evaluation failed"})
}

func strPtr(s string) *string {
	return &s
}
