// Package chread serves decision queries and analytics from ClickHouse.
package chread

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse decisions table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := storage.OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

const selectColumns = "request_id, project_id, timestamp, policy, " +
	"scenario, scores, total_score, decision, reason, override_rule, " +
	"classifier_label, classifier_model, prediction_available, " +
	"participant_id, session_id, scenario_index, participant_decision, " +
	"decision_time_seconds, confirmation_feedback, additional_feedback, " +
	"latency_ms, source"

func scanRecord(row interface{ Scan(...any) error }) (*storage.DecisionRecord, error) {
	var (
		rec                 storage.DecisionRecord
		predictionAvailable uint8
		scenarioIndex       int32
		decisionTime        float32
	)
	if err := row.Scan(
		&rec.RequestID, &rec.ProjectID, &rec.Timestamp, &rec.Policy,
		&rec.Scenario, &rec.Scores, &rec.TotalScore, &rec.Decision, &rec.Reason, &rec.OverrideRule,
		&rec.ClassifierLabel, &rec.ClassifierModel, &predictionAvailable,
		&rec.ParticipantID, &rec.SessionID, &scenarioIndex, &rec.ParticipantDecision,
		&decisionTime, &rec.ConfirmationFeedback, &rec.AdditionalFeedback,
		&rec.LatencyMs, &rec.Source,
	); err != nil {
		return nil, err
	}
	rec.PredictionAvailable = predictionAvailable == 1
	rec.ScenarioIndex = int(scenarioIndex)
	rec.DecisionTimeSeconds = float64(decisionTime)
	return &rec, nil
}

// buildConditions turns list filters into a WHERE clause with named args.
func buildConditions(params storage.ListParams) (string, []any) {
	conditions := []string{"project_id = @project_id"}
	args := []any{
		clickhouse.Named("project_id", params.ProjectID),
	}

	if params.Decision != nil {
		conditions = append(conditions, "decision = @decision")
		args = append(args, clickhouse.Named("decision", *params.Decision))
	}
	if params.Policy != nil {
		conditions = append(conditions, "policy = @policy")
		args = append(args, clickhouse.Named("policy", *params.Policy))
	}
	if params.OverrideRule != nil {
		conditions = append(conditions, "override_rule = @override_rule")
		args = append(args, clickhouse.Named("override_rule", *params.OverrideRule))
	}
	if params.ParticipantID != nil {
		conditions = append(conditions, "participant_id = @participant_id")
		args = append(args, clickhouse.Named("participant_id", *params.ParticipantID))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}
	return strings.Join(conditions, " AND "), args
}

// ListDecisions returns paginated, filtered decisions and the total count.
func (r *Reader) ListDecisions(ctx context.Context, params storage.ListParams) ([]storage.DecisionRecord, int, error) {
	where, args := buildConditions(params)

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM decisions WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListDecisions count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT %s FROM decisions WHERE %s ORDER BY timestamp DESC LIMIT @limit OFFSET @offset",
		selectColumns, where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(params.Offset())),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListDecisions query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.DecisionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ListDecisions scan: %w", err)
		}
		out = append(out, *rec)
	}
	return out, int(total), rows.Err()
}

// GetDecision returns a single decision by project ID and request ID, or nil
// if not found.
func (r *Reader) GetDecision(ctx context.Context, projectID, requestID string) (*storage.DecisionRecord, error) {
	rows, err := r.conn.Query(ctx,
		"SELECT "+selectColumns+" FROM decisions "+
			"WHERE project_id = @project_id AND request_id = @request_id LIMIT 1",
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("request_id", requestID),
	)
	if err != nil {
		return nil, fmt.Errorf("GetDecision: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// ClickHouse doesn't return sql.ErrNoRows, so check for an empty result.
	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, fmt.Errorf("GetDecision scan: %w", err)
	}
	return rec, nil
}

// GetAnalytics returns aggregated analytics for a project over the given
// number of days.
func (r *Reader) GetAnalytics(ctx context.Context, projectID string, days int) (*storage.Analytics, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	baseArgs := []any{
		clickhouse.Named("project_id", projectID),
		clickhouse.Named("range_start", rangeStart),
	}
	result := &storage.Analytics{}

	// Summary counts
	var total, engage, ask, dnk, dne, overrides, unavailable uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), "+
			"countIf(decision = 'Engage'), "+
			"countIf(decision = 'Ask Authorization'), "+
			"countIf(decision = 'Do Not Know'), "+
			"countIf(decision = 'Do Not Engage'), "+
			"countIf(override_rule != ''), "+
			"countIf(startsWith(reason, 'prediction unavailable')) "+
			"FROM decisions "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &engage, &ask, &dnk, &dne, &overrides, &unavailable)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Summary = storage.SummaryStats{
		Total:            int(total),
		Engage:           int(engage),
		AskAuthorization: int(ask),
		DoNotKnow:        int(dnk),
		DoNotEngage:      int(dne),
		Overrides:        int(overrides),
	}
	result.Classifier.Unavailable = int(unavailable)

	// Decisions over time (hourly)
	hourRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) AS hour, count() AS count "+
			"FROM decisions "+
			"WHERE project_id = @project_id AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics decisions_over_time: %w", err)
	}
	result.DecisionsOverTime, err = storage.CollectRows(hourRows, func(row storage.Rows) (storage.TimeSeriesBucket, error) {
		var hour time.Time
		var count uint64
		if err := row.Scan(&hour, &count); err != nil {
			return storage.TimeSeriesBucket{}, err
		}
		return storage.TimeSeriesBucket{Hour: hour.UTC().Format(time.RFC3339), Count: int(count)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics decisions_over_time: %w", err)
	}

	// Override rule frequency
	ruleRows, err := r.conn.Query(ctx,
		"SELECT override_rule, count() AS count "+
			"FROM decisions "+
			"WHERE project_id = @project_id AND override_rule != '' "+
			"AND timestamp >= @range_start "+
			"GROUP BY override_rule ORDER BY count DESC, override_rule LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_override_rules: %w", err)
	}
	result.TopOverrideRules, err = storage.CollectRows(ruleRows, func(row storage.Rows) (storage.RuleCount, error) {
		var rule string
		var count uint64
		if err := row.Scan(&rule, &count); err != nil {
			return storage.RuleCount{}, err
		}
		return storage.RuleCount{Rule: rule, Count: int(count)}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_override_rules: %w", err)
	}

	// Participant agreement
	var compared, agreed uint64
	err = r.conn.QueryRow(ctx,
		"SELECT count(), countIf(participant_decision = decision) "+
			"FROM decisions "+
			"WHERE project_id = @project_id AND participant_decision != '' "+
			"AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&compared, &agreed)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics agreement: %w", err)
	}
	result.Agreement = storage.AgreementStats{
		Compared: int(compared),
		Agreed:   int(agreed),
		Rate:     storage.AgreementRate(int(agreed), int(compared)),
	}

	// Latency percentiles
	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(latency_ms), "+
			"quantile(0.95)(latency_ms), "+
			"quantile(0.99)(latency_ms) "+
			"FROM decisions "+
			"WHERE project_id = @project_id AND timestamp >= @range_start",
		baseArgs...,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics latency: %w", err)
	}
	result.LatencyPercentiles = storage.LatencyStats{
		P50: storage.SafeFloat(p50), P95: storage.SafeFloat(p95), P99: storage.SafeFloat(p99),
	}

	result.EnsureSlices()
	return result, nil
}
