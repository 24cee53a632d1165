package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// ClickHouseSchema creates the decisions table.
const ClickHouseSchema = `
CREATE TABLE IF NOT EXISTS decisions (
	request_id             String,
	project_id             String,
	timestamp              DateTime64(3, 'UTC'),
	policy                 LowCardinality(String),
	scenario               Map(String, String),
	scores                 Map(String, Int32),
	total_score            Int32,
	decision               LowCardinality(String),
	reason                 String,
	override_rule          LowCardinality(String),
	classifier_label       LowCardinality(String),
	classifier_model       String,
	prediction_available   UInt8,
	participant_id         String,
	session_id             String,
	scenario_index         Int32,
	participant_decision   LowCardinality(String),
	decision_time_seconds  Float32,
	confirmation_feedback  String,
	additional_feedback    String,
	latency_ms             Float32,
	source                 LowCardinality(String)
) ENGINE = MergeTree
ORDER BY (project_id, timestamp)
`

// ClickHouseWriter writes decision records to ClickHouse asynchronously.
// Write() is non-blocking; records are buffered and batch-inserted in a
// background goroutine.
type ClickHouseWriter struct {
	conn   driver.Conn
	batch  *batcher
	logger *zap.Logger
}

// OpenClickHouse parses dsn, enforces TLS and pings the server.
func OpenClickHouse(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenClickHouse: %w", err)
	}
	// ParseDSN sets TLS for ?secure=true; enforce it for plain DSNs too.
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("OpenClickHouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("OpenClickHouse: %w", err)
	}
	return conn, nil
}

// NewClickHouseWriter connects, creates the decisions table if needed and
// starts the background flush loop.
func NewClickHouseWriter(dsn string, logger *zap.Logger) (*ClickHouseWriter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := OpenClickHouse(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("NewClickHouseWriter: %w", err)
	}
	if err := conn.Exec(ctx, ClickHouseSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("NewClickHouseWriter: migrate: %w", err)
	}

	w := &ClickHouseWriter{conn: conn, logger: logger}
	w.batch = newBatcher("clickhouse", w.flush, logger)
	return w, nil
}

// Write queues a decision record for async insertion.
func (w *ClickHouseWriter) Write(rec *DecisionRecord) {
	w.batch.write(rec)
}

// Close drains buffered records (up to drainTimeout) and closes the
// connection. Safe to call once.
func (w *ClickHouseWriter) Close() {
	w.batch.close()
	_ = w.conn.Close()
}

func (w *ClickHouseWriter) flush(records []*DecisionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO decisions (
			request_id, project_id, timestamp, policy,
			scenario, scores, total_score,
			decision, reason, override_rule,
			classifier_label, classifier_model, prediction_available,
			participant_id, session_id, scenario_index, participant_decision,
			decision_time_seconds, confirmation_feedback, additional_feedback,
			latency_ms, source
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, r := range records {
		if err := batch.Append(
			r.RequestID,
			r.ProjectID,
			r.Timestamp,
			r.Policy,
			r.Scenario,
			r.Scores,
			r.TotalScore,
			r.Decision,
			r.Reason,
			r.OverrideRule,
			r.ClassifierLabel,
			r.ClassifierModel,
			boolToUint8(r.PredictionAvailable),
			r.ParticipantID,
			r.SessionID,
			int32(r.ScenarioIndex),
			r.ParticipantDecision,
			float32(r.DecisionTimeSeconds),
			r.ConfirmationFeedback,
			r.AdditionalFeedback,
			r.LatencyMs,
			r.Source,
		); err != nil {
			w.logger.Error("clickhouse append record failed",
				zap.String("request_id", r.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(records)),
			zap.Error(err),
		)
	}
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// LogWriter is a fallback RecordWriter for local development.
// It logs records as structured JSON via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs records to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(rec *DecisionRecord) {
	w.logger.Info("decision_record",
		zap.String("request_id", rec.RequestID),
		zap.String("project_id", rec.ProjectID),
		zap.String("policy", rec.Policy),
		zap.String("decision", rec.Decision),
		zap.String("reason", rec.Reason),
		zap.Int32("total_score", rec.TotalScore),
		zap.String("override_rule", rec.OverrideRule),
		zap.String("classifier_label", rec.ClassifierLabel),
		zap.Bool("prediction_available", rec.PredictionAvailable),
		zap.String("participant_id", rec.ParticipantID),
		zap.String("participant_decision", rec.ParticipantDecision),
		zap.Float32("latency_ms", rec.LatencyMs),
	)
}

func (w *LogWriter) Close() {}

// MultiWriter fans each record out to several writers.
type MultiWriter []RecordWriter

func (m MultiWriter) Write(rec *DecisionRecord) {
	for _, w := range m {
		w.Write(rec)
	}
}

func (m MultiWriter) Close() {
	for _, w := range m {
		w.Close()
	}
}
