package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	request_id             TEXT PRIMARY KEY,
	project_id             TEXT NOT NULL,
	timestamp              TEXT NOT NULL,
	policy                 TEXT NOT NULL,
	scenario_json          TEXT NOT NULL,
	scores_json            TEXT NOT NULL,
	total_score            INTEGER NOT NULL,
	decision               TEXT NOT NULL,
	reason                 TEXT NOT NULL,
	override_rule          TEXT NOT NULL DEFAULT '',
	classifier_label       TEXT NOT NULL DEFAULT '',
	classifier_model       TEXT NOT NULL DEFAULT '',
	prediction_available   INTEGER NOT NULL DEFAULT 0,
	participant_id         TEXT NOT NULL DEFAULT '',
	session_id             TEXT NOT NULL DEFAULT '',
	scenario_index         INTEGER NOT NULL DEFAULT 0,
	participant_decision   TEXT NOT NULL DEFAULT '',
	decision_time_seconds  REAL NOT NULL DEFAULT 0,
	confirmation_feedback  TEXT NOT NULL DEFAULT '',
	additional_feedback    TEXT NOT NULL DEFAULT '',
	latency_ms             REAL NOT NULL DEFAULT 0,
	source                 TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_decisions_project_ts ON decisions(project_id, timestamp);
`

// sqliteTime is fixed width so string comparison orders chronologically.
const sqliteTime = "2006-01-02T15:04:05.000Z"

// SQLiteStore records decisions to a local SQLite file for offline study
// runs. Writes go through the same async batcher as ClickHouse; it also
// serves the read side.
type SQLiteStore struct {
	db     *sql.DB
	batch  *batcher
	logger *zap.Logger
}

// NewSQLiteStore opens a SQLite database, runs migrations and starts the
// flush loop.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("NewSQLiteStore: open db: %w", err)
	}
	// A single connection keeps in-memory databases shared.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteStore: pragma: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("NewSQLiteStore: migrate: %w", err)
	}
	s := &SQLiteStore{db: db, logger: logger}
	s.batch = newBatcher("sqlite", s.flush, logger)
	return s, nil
}

// DB returns the underlying *sql.DB.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Write queues a decision record for async insertion.
func (s *SQLiteStore) Write(rec *DecisionRecord) {
	s.batch.write(rec)
}

// Flush synchronously writes records, bypassing the buffer.
func (s *SQLiteStore) Flush(records ...*DecisionRecord) error {
	return s.insert(context.Background(), records)
}

// Close drains buffered records and closes the database.
func (s *SQLiteStore) Close() {
	s.batch.close()
	_ = s.db.Close()
}

func (s *SQLiteStore) flush(records []*DecisionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.insert(ctx, records); err != nil {
		s.logger.Error("sqlite batch insert failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

func (s *SQLiteStore) insert(ctx context.Context, records []*DecisionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO decisions (
			request_id, project_id, timestamp, policy,
			scenario_json, scores_json, total_score,
			decision, reason, override_rule,
			classifier_label, classifier_model, prediction_available,
			participant_id, session_id, scenario_index, participant_decision,
			decision_time_seconds, confirmation_feedback, additional_feedback,
			latency_ms, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("insert: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		scenarioJSON, err := json.Marshal(r.Scenario)
		if err != nil {
			return fmt.Errorf("insert: marshal scenario: %w", err)
		}
		scoresJSON, err := json.Marshal(r.Scores)
		if err != nil {
			return fmt.Errorf("insert: marshal scores: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.RequestID, r.ProjectID, r.Timestamp.UTC().Format(sqliteTime), r.Policy,
			string(scenarioJSON), string(scoresJSON), r.TotalScore,
			r.Decision, r.Reason, r.OverrideRule,
			r.ClassifierLabel, r.ClassifierModel, boolToUint8(r.PredictionAvailable),
			r.ParticipantID, r.SessionID, r.ScenarioIndex, r.ParticipantDecision,
			r.DecisionTimeSeconds, r.ConfirmationFeedback, r.AdditionalFeedback,
			r.LatencyMs, r.Source,
		); err != nil {
			return fmt.Errorf("insert %s: %w", r.RequestID, err)
		}
	}
	return tx.Commit()
}

const sqliteSelect = `SELECT request_id, project_id, timestamp, policy,
	scenario_json, scores_json, total_score,
	decision, reason, override_rule,
	classifier_label, classifier_model, prediction_available,
	participant_id, session_id, scenario_index, participant_decision,
	decision_time_seconds, confirmation_feedback, additional_feedback,
	latency_ms, source
	FROM decisions`

func scanSQLiteRecord(row interface{ Scan(...any) error }) (*DecisionRecord, error) {
	var (
		r                       DecisionRecord
		ts, scenario, scores    string
		predictionAvailable     int
		decisionTime, latencyMs float64
	)
	if err := row.Scan(
		&r.RequestID, &r.ProjectID, &ts, &r.Policy,
		&scenario, &scores, &r.TotalScore,
		&r.Decision, &r.Reason, &r.OverrideRule,
		&r.ClassifierLabel, &r.ClassifierModel, &predictionAvailable,
		&r.ParticipantID, &r.SessionID, &r.ScenarioIndex, &r.ParticipantDecision,
		&decisionTime, &r.ConfirmationFeedback, &r.AdditionalFeedback,
		&latencyMs, &r.Source,
	); err != nil {
		return nil, err
	}
	t, err := time.Parse(sqliteTime, ts)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	r.Timestamp = t
	if err := json.Unmarshal([]byte(scenario), &r.Scenario); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &r.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	r.PredictionAvailable = predictionAvailable != 0
	r.DecisionTimeSeconds = decisionTime
	r.LatencyMs = float32(latencyMs)
	return &r, nil
}

// ListDecisions returns paginated, filtered decisions (newest first) and the
// total count.
func (s *SQLiteStore) ListDecisions(ctx context.Context, params ListParams) ([]DecisionRecord, int, error) {
	conditions := []string{"project_id = ?"}
	args := []any{params.ProjectID}

	if params.Decision != nil {
		conditions = append(conditions, "decision = ?")
		args = append(args, *params.Decision)
	}
	if params.Policy != nil {
		conditions = append(conditions, "policy = ?")
		args = append(args, *params.Policy)
	}
	if params.OverrideRule != nil {
		conditions = append(conditions, "override_rule = ?")
		args = append(args, *params.OverrideRule)
	}
	if params.ParticipantID != nil {
		conditions = append(conditions, "participant_id = ?")
		args = append(args, *params.ParticipantID)
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, params.StartTime.UTC().Format(sqliteTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, params.EndTime.UTC().Format(sqliteTime))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM decisions WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListDecisions count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		sqliteSelect+" WHERE "+where+" ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		append(args, params.PageSize, params.Offset())...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("ListDecisions query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DecisionRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListDecisions scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, total, rows.Err()
}

// GetDecision returns a single decision, or nil if not found.
func (s *SQLiteStore) GetDecision(ctx context.Context, projectID, requestID string) (*DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		sqliteSelect+" WHERE project_id = ? AND request_id = ?", projectID, requestID)
	r, err := scanSQLiteRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetDecision: %w", err)
	}
	return r, nil
}

// GetAnalytics returns aggregated analytics for a project over the given
// number of days.
func (s *SQLiteStore) GetAnalytics(ctx context.Context, projectID string, days int) (*Analytics, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(sqliteTime)
	result := &Analytics{}

	var engage, ask, dnk, dne, overrides, unavailable sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*),
			sum(decision = 'Engage'),
			sum(decision = 'Ask Authorization'),
			sum(decision = 'Do Not Know'),
			sum(decision = 'Do Not Engage'),
			sum(override_rule != ''),
			sum(reason LIKE 'prediction unavailable%')
		FROM decisions WHERE project_id = ? AND timestamp >= ?`,
		projectID, rangeStart,
	).Scan(&result.Summary.Total, &engage, &ask, &dnk, &dne, &overrides, &unavailable)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary.Engage = int(engage.Int64)
	result.Summary.AskAuthorization = int(ask.Int64)
	result.Summary.DoNotKnow = int(dnk.Int64)
	result.Summary.DoNotEngage = int(dne.Int64)
	result.Summary.Overrides = int(overrides.Int64)
	result.Classifier.Unavailable = int(unavailable.Int64)

	hourRows, err := s.db.QueryContext(ctx, `
		SELECT substr(timestamp, 1, 13) || ':00:00Z' AS hour, count(*)
		FROM decisions WHERE project_id = ? AND timestamp >= ?
		GROUP BY hour ORDER BY hour`,
		projectID, rangeStart,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics decisions_over_time: %w", err)
	}
	result.DecisionsOverTime, err = CollectRows(hourRows, func(row Rows) (TimeSeriesBucket, error) {
		var b TimeSeriesBucket
		return b, row.Scan(&b.Hour, &b.Count)
	})
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics decisions_over_time: %w", err)
	}

	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT override_rule, count(*) AS n
		FROM decisions WHERE project_id = ? AND override_rule != '' AND timestamp >= ?
		GROUP BY override_rule ORDER BY n DESC, override_rule LIMIT 10`,
		projectID, rangeStart,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_override_rules: %w", err)
	}
	result.TopOverrideRules, err = CollectRows(ruleRows, func(row Rows) (RuleCount, error) {
		var rc RuleCount
		return rc, row.Scan(&rc.Rule, &rc.Count)
	})
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_override_rules: %w", err)
	}

	var agreed sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT count(*), sum(participant_decision = decision)
		FROM decisions WHERE project_id = ? AND participant_decision != '' AND timestamp >= ?`,
		projectID, rangeStart,
	).Scan(&result.Agreement.Compared, &agreed)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics agreement: %w", err)
	}
	result.Agreement.Agreed = int(agreed.Int64)
	result.Agreement.Rate = AgreementRate(result.Agreement.Agreed, result.Agreement.Compared)

	latRows, err := s.db.QueryContext(ctx,
		"SELECT latency_ms FROM decisions WHERE project_id = ? AND timestamp >= ?",
		projectID, rangeStart,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	latencies, err := CollectRows(latRows, func(row Rows) (float64, error) {
		var v float64
		return v, row.Scan(&v)
	})
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = percentiles(latencies)

	result.EnsureSlices()
	return result, nil
}

// percentiles computes nearest-rank p50/p95/p99.
func percentiles(values []float64) LatencyStats {
	if len(values) == 0 {
		return LatencyStats{}
	}
	sort.Float64s(values)
	rank := func(p float64) float64 {
		i := int(math.Ceil(p*float64(len(values))-1e-9)) - 1
		if i < 0 {
			i = 0
		}
		return values[i]
	}
	return LatencyStats{P50: rank(0.5), P95: rank(0.95), P99: rank(0.99)}
}
