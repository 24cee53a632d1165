package storage

import (
	"math"
	"time"
)

// ListParams holds filters and pagination for decision listing.
type ListParams struct {
	ProjectID     string
	Decision      *string
	Policy        *string
	OverrideRule  *string
	ParticipantID *string
	StartTime     *time.Time
	EndTime       *time.Time
	Page          int
	PageSize      int
}

// Offset returns the row offset of the requested page.
func (p ListParams) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// SummaryStats holds decision counts.
type SummaryStats struct {
	Total            int `json:"total"`
	Engage           int `json:"engage"`
	AskAuthorization int `json:"ask_authorization"`
	DoNotKnow        int `json:"do_not_know"`
	DoNotEngage      int `json:"do_not_engage"`
	Overrides        int `json:"overrides"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// RuleCount holds an override rule and how often it fired.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// AgreementStats compares participant decisions with engine decisions.
type AgreementStats struct {
	Compared int     `json:"compared"`
	Agreed   int     `json:"agreed"`
	Rate     float64 `json:"rate"`
}

// ClassifierStats counts classifier consultations that failed.
type ClassifierStats struct {
	Unavailable int `json:"unavailable"`
}

// LatencyStats holds latency percentiles.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Analytics holds all analytics aggregations.
type Analytics struct {
	Summary            SummaryStats       `json:"summary"`
	DecisionsOverTime  []TimeSeriesBucket `json:"decisions_over_time"`
	TopOverrideRules   []RuleCount        `json:"top_override_rules"`
	Agreement          AgreementStats     `json:"agreement"`
	Classifier         ClassifierStats    `json:"classifier"`
	LatencyPercentiles LatencyStats       `json:"latency_percentiles"`
}

// EnsureSlices makes empty slices non-nil for JSON serialization.
func (a *Analytics) EnsureSlices() {
	if a.DecisionsOverTime == nil {
		a.DecisionsOverTime = []TimeSeriesBucket{}
	}
	if a.TopOverrideRules == nil {
		a.TopOverrideRules = []RuleCount{}
	}
}

// AgreementRate returns agreed/compared, or 0 when nothing was compared.
func AgreementRate(agreed, compared int) float64 {
	if compared == 0 {
		return 0
	}
	return math.Round(float64(agreed)/float64(compared)*10000) / 10000
}

// SafeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func SafeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}

// Rows is the iteration surface shared by *sql.Rows and the ClickHouse
// driver's rows.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// CollectRows scans every row with scan and closes rows. An iteration
// error is returned instead of a truncated result.
func CollectRows[T any](rows Rows, scan func(Rows) (T, error)) ([]T, error) {
	defer func() { _ = rows.Close() }()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
