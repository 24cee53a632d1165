package api

import (
	"encoding/json"
	"time"

	"github.com/lauramurakaru/mdmp/internal/storage"
)

// --- POST /v1/evaluate and /v1/score ---

// EvaluateRequest is the JSON body for POST /v1/evaluate. Scenario values
// may be strings or numbers; numbers are formatted without trailing zeros.
type EvaluateRequest struct {
	Scenario map[string]any    `json:"scenario"`
	Feedback *storage.Feedback `json:"feedback,omitempty"`
}

// BatchEvaluateRequest is the JSON body for POST /v1/evaluate/batch.
type BatchEvaluateRequest struct {
	Scenarios []map[string]any `json:"scenarios"`
}

// ClassifierResp describes the classifier consultation, when one happened.
type ClassifierResp struct {
	Model               string  `json:"model"`
	PredictionAvailable bool    `json:"prediction_available"`
	Label               *string `json:"label"`
	Code                *int    `json:"code"`
}

// ThresholdsResp echoes the threshold bands used.
type ThresholdsResp struct {
	Engage           float64 `json:"engage"`
	AskAuthorization float64 `json:"ask_authorization"`
	DoNotKnow        float64 `json:"do_not_know"`
}

// ScoreResp is the scoring output: one <key>_Score per attribute plus
// Total_Score, and each attribute's signed percentage contribution.
type ScoreResp struct {
	Scores      map[string]int     `json:"scores"`
	TotalScore  int                `json:"total_score"`
	Percentages map[string]float64 `json:"percentages"`
}

// EvaluateResponse is the decision output.
type EvaluateResponse struct {
	RequestID    string          `json:"request_id"`
	Decision     string          `json:"decision"`
	Reason       string          `json:"reason"`
	Policy       string          `json:"policy"`
	OverrideRule *string         `json:"override_rule"`
	Thresholds   ThresholdsResp  `json:"thresholds"`
	Classifier   *ClassifierResp `json:"classifier,omitempty"`
	ScoreResp
	LatencyMs float64 `json:"latency_ms"`
}

// BatchItemResp is one entry of a batch response. Exactly one of Result and
// Error is set.
type BatchItemResp struct {
	Index  int               `json:"index"`
	Result *EvaluateResponse `json:"result,omitempty"`
	Error  *ErrorResp        `json:"error,omitempty"`
}

// BatchEvaluateResponse is the response of POST /v1/evaluate/batch.
type BatchEvaluateResponse struct {
	Results   []BatchItemResp `json:"results"`
	LatencyMs float64         `json:"latency_ms"`
}

// --- GET /v1/attributes ---

// AttributeValueResp is one raw value and its score.
type AttributeValueResp struct {
	Value string `json:"value"`
	Score int    `json:"score"`
}

// AttributeResp describes one attribute of the score table.
type AttributeResp struct {
	Key      string               `json:"key"`
	ScoreKey string               `json:"score_key"`
	Values   []AttributeValueResp `json:"values"`
}

// --- GET /v1/scenarios/random ---

// RandomScenarioResp is a scenario drawn from the loaded dataset.
type RandomScenarioResp struct {
	Line     int               `json:"line"`
	Scenario map[string]string `json:"scenario"`
	ScoreResp
}

// --- GET /v1/model ---

// ModelResp describes the configured classifier.
type ModelResp struct {
	Model             string             `json:"model"`
	Columns           []string           `json:"columns"`
	UnresolvedColumns []string           `json:"unresolved_columns"`
	Importances       map[string]float64 `json:"importances"`
	ImportancesError  *string            `json:"importances_error,omitempty"`
}

// --- Project CRUD ---

// CreateProjectReq is the JSON body for POST /api/mdmp/projects.
type CreateProjectReq struct {
	Name string `json:"name"`
	Mode string `json:"mode,omitempty"` // threshold | classifier, default threshold
}

// CreateProjectResp includes the plaintext API key (shown once).
type CreateProjectResp struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	APIKey          string    `json:"api_key"`
	APIKeyPrefix    string    `json:"api_key_prefix"`
	Mode            string    `json:"mode"`
	RecordDecisions bool      `json:"record_decisions"`
	CreatedAt       time.Time `json:"created_at"`
}

// UpdateProjectReq is the JSON body for PATCH /api/mdmp/projects/{id}.
type UpdateProjectReq struct {
	Name            *string `json:"name,omitempty"`
	Mode            *string `json:"mode,omitempty"`
	RecordDecisions *bool   `json:"record_decisions,omitempty"`
}

// ProjectResp is the public project representation (no key hash).
type ProjectResp struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	APIKeyPrefix    string     `json:"api_key_prefix"`
	Mode            string     `json:"mode"`
	RecordDecisions bool       `json:"record_decisions"`
	KeyRotatedAt    *time.Time `json:"key_rotated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ProjectListResp is one page of GET /api/mdmp/projects.
type ProjectListResp struct {
	Projects []ProjectResp `json:"projects"`
	Total    int           `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// RotateKeyResp holds the new plaintext key (shown once).
type RotateKeyResp struct {
	APIKey       string     `json:"api_key"`
	APIKeyPrefix string     `json:"api_key_prefix"`
	RotatedAt    *time.Time `json:"rotated_at,omitempty"`
}

// --- Policy CRUD ---

// UpdatePolicyReq is the JSON body for PUT/PATCH /api/mdmp/projects/{id}/policy.
type UpdatePolicyReq struct {
	DecisionConfig json.RawMessage `json:"decision_config"`
}

// PolicyResp is the public policy representation.
type PolicyResp struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	DecisionConfig json.RawMessage `json:"decision_config"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// --- Decisions & analytics ---

// DecisionResp is a stored decision record.
type DecisionResp struct {
	RequestID            string            `json:"request_id"`
	ProjectID            string            `json:"project_id"`
	Timestamp            time.Time         `json:"timestamp"`
	Policy               string            `json:"policy"`
	Scenario             map[string]string `json:"scenario"`
	Scores               map[string]int32  `json:"scores"`
	TotalScore           int32             `json:"total_score"`
	Decision             string            `json:"decision"`
	Reason               string            `json:"reason"`
	OverrideRule         *string           `json:"override_rule"`
	ClassifierLabel      *string           `json:"classifier_label"`
	ClassifierModel      *string           `json:"classifier_model"`
	PredictionAvailable  bool              `json:"prediction_available"`
	ParticipantID        *string           `json:"participant_id"`
	SessionID            *string           `json:"session_id"`
	ScenarioIndex        int               `json:"scenario_index"`
	ParticipantDecision  *string           `json:"participant_decision"`
	DecisionTimeSeconds  float64           `json:"decision_time_seconds"`
	ConfirmationFeedback *string           `json:"confirmation_feedback"`
	AdditionalFeedback   *string           `json:"additional_feedback"`
	LatencyMs            float32           `json:"latency_ms"`
	Source               string            `json:"source"`
}

// DecisionListResp is a page of decisions.
type DecisionListResp struct {
	Decisions []DecisionResp `json:"decisions"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	PageSize  int            `json:"page_size"`
}

// --- Errors ---

// ErrorResp is the error body. Attribute and Value are set for scenario
// validation failures.
type ErrorResp struct {
	Detail    string  `json:"detail"`
	Attribute *string `json:"attribute,omitempty"`
	Value     *string `json:"value,omitempty"`
}
