package storage

import (
	"time"

	"github.com/lauramurakaru/mdmp/internal/engine"
)

// RecordWriter persists decision records.
// Write() must NEVER block the caller.
type RecordWriter interface {
	Write(record *DecisionRecord)
	Close()
}

// Feedback is the participant side of a decision, supplied by the
// orchestrating client alongside the scenario.
type Feedback struct {
	ParticipantID        string  `json:"participant_id,omitempty"`
	SessionID            string  `json:"session_id,omitempty"`
	ScenarioIndex        int     `json:"scenario_index,omitempty"`
	ParticipantDecision  string  `json:"participant_decision,omitempty"`
	DecisionTimeSeconds  float64 `json:"decision_time_seconds,omitempty"`
	ConfirmationFeedback string  `json:"confirmation_feedback,omitempty"`
	AdditionalFeedback   string  `json:"additional_feedback,omitempty"`
}

// DecisionRecord is a single evaluation result to be persisted.
type DecisionRecord struct {
	RequestID           string
	ProjectID           string
	Timestamp           time.Time
	Policy              string
	Scenario            map[string]string // raw attribute values
	Scores              map[string]int32  // <key>_Score columns
	TotalScore          int32
	Decision            string
	Reason              string
	OverrideRule        string // empty when no rule matched
	ClassifierLabel     string // empty when the classifier was not consulted or failed
	ClassifierModel     string
	PredictionAvailable bool
	Feedback
	LatencyMs float32
	Source    string // "http" or "grpc"
}

// NewDecisionRecord flattens an evaluation result into a record.
func NewDecisionRecord(requestID, projectID string, res *engine.Result, fb *Feedback, source string) *DecisionRecord {
	rec := &DecisionRecord{
		RequestID:           requestID,
		ProjectID:           projectID,
		Timestamp:           time.Now().UTC(),
		Policy:              res.Policy.String(),
		Scenario:            res.Scenario.Raw(),
		Scores:              make(map[string]int32, engine.NumAttributes),
		Decision:            res.Decision.String(),
		Reason:              res.Reason,
		ClassifierModel:     res.ClassifierModel,
		PredictionAvailable: res.PredictionAvailable,
		LatencyMs:           float32(res.Latency.Microseconds()) / 1000,
		Source:              source,
	}
	if res.Scored != nil {
		for _, a := range engine.Attributes() {
			rec.Scores[a.ScoreKey()] = int32(res.Scored.Score(a))
		}
		rec.TotalScore = int32(res.Scored.Total)
	}
	if res.Override.Matched {
		rec.OverrideRule = res.Override.Rule
	}
	if res.ClassifierLabel != nil {
		rec.ClassifierLabel = *res.ClassifierLabel
	}
	if fb != nil {
		rec.Feedback = *fb
	}
	return rec
}

// Agrees reports whether the participant's recorded decision matches the
// engine's. Records without a participant decision never agree.
func (r *DecisionRecord) Agrees() bool {
	return r.ParticipantDecision != "" && r.ParticipantDecision == r.Decision
}
