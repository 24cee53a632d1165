package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PredictionUnavailablePrefix starts the reason of a classifier-policy result
// whose model could not be consulted.
const PredictionUnavailablePrefix = "prediction unavailable"

// Result is the outcome of one evaluation.
type Result struct {
	Decision    Decision
	Reason      string
	Policy      Policy
	Override    Override
	Scenario    Scenario
	Scored      *ScoredScenario
	Percentages map[Attribute]float64
	Thresholds  ThresholdConfig

	// Set only when the classifier was consulted.
	ClassifierConsulted bool
	PredictionAvailable bool
	ClassifierLabel     *string
	ClassifierCode      *int
	ClassifierModel     string

	Latency time.Duration
}

// Options tune a single Decide call.
type Options struct {
	Thresholds *ThresholdConfig // nil = arbiter default
	Advisory   bool             // attach the classifier label to threshold decisions
}

// Arbiter composes the rule engine with the threshold or classifier fallback.
// Safe for concurrent use.
type Arbiter struct {
	rules      *RuleEngine
	classifier *ClassifierAdapter // nil when no model is configured
	thresholds atomic.Pointer[ThresholdConfig]
	timeout    time.Duration
	logger     *zap.Logger
}

// ArbiterConfig configures NewArbiter.
type ArbiterConfig struct {
	Rules             *RuleEngine        // nil = DefaultRules()
	Classifier        *ClassifierAdapter // optional
	Thresholds        ThresholdConfig
	ClassifierTimeout time.Duration // 0 = no extra deadline
	Logger            *zap.Logger
}

// NewArbiter builds an Arbiter.
func NewArbiter(cfg ArbiterConfig) (*Arbiter, error) {
	rules := cfg.Rules
	if rules == nil {
		var err error
		rules, err = NewRuleEngine(DefaultRules())
		if err != nil {
			return nil, fmt.Errorf("NewArbiter: %w", err)
		}
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("NewArbiter: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Arbiter{
		rules:      rules,
		classifier: cfg.Classifier,
		timeout:    cfg.ClassifierTimeout,
		logger:     logger,
	}
	t := cfg.Thresholds
	a.thresholds.Store(&t)
	return a, nil
}

// Thresholds returns the current default threshold configuration.
func (a *Arbiter) Thresholds() ThresholdConfig {
	return *a.thresholds.Load()
}

// SetThresholds replaces the default thresholds used when a call does not
// carry its own. Invalid configurations are rejected.
func (a *Arbiter) SetThresholds(t ThresholdConfig) error {
	if err := t.Validate(); err != nil {
		return err
	}
	a.thresholds.Store(&t)
	return nil
}

// Classifier returns the configured adapter, or nil.
func (a *Arbiter) Classifier() *ClassifierAdapter {
	return a.classifier
}

// Rules returns the rule engine.
func (a *Arbiter) Rules() *RuleEngine {
	return a.rules
}

// Decide validates raw, scores it and produces a decision under policy.
func (a *Arbiter) Decide(ctx context.Context, raw map[string]string, policy Policy) (*Result, error) {
	return a.DecideWith(ctx, raw, policy, Options{})
}

// DecideWith is Decide with per-call options.
func (a *Arbiter) DecideWith(ctx context.Context, raw map[string]string, policy Policy, opts Options) (*Result, error) {
	s, err := NewScenario(raw)
	if err != nil {
		return nil, err
	}
	return a.Evaluate(ctx, s, policy, opts)
}

// Evaluate decides an already validated scenario.
//
// Flow:
//  1. Score the scenario (atomic)
//  2. Override rules; a match is final and the classifier is never called
//  3. PolicyThreshold: band the total; optionally attach the advisory label
//  4. PolicyClassifier: the model's prediction, or Do Not Know when the
//     model is unavailable
func (a *Arbiter) Evaluate(ctx context.Context, s Scenario, policy Policy, opts Options) (*Result, error) {
	start := time.Now()

	if policy != PolicyThreshold && policy != PolicyClassifier {
		return nil, fmt.Errorf("Evaluate: unsupported policy %s", policy)
	}

	scored, err := Score(s)
	if err != nil {
		return nil, err
	}

	thresholds := a.Thresholds()
	if opts.Thresholds != nil {
		if err := opts.Thresholds.Validate(); err != nil {
			return nil, fmt.Errorf("Evaluate: %w", err)
		}
		thresholds = *opts.Thresholds
	}

	res := &Result{
		Policy:      policy,
		Scenario:    s,
		Scored:      scored,
		Percentages: PercentageContribution(scored),
		Thresholds:  thresholds,
	}

	res.Override = a.rules.Evaluate(s, scored.Total)
	if res.Override.Matched {
		res.Decision = res.Override.Decision
		res.Reason = res.Override.Reason
		a.logger.Debug("override rule matched",
			zap.String("rule", res.Override.Rule),
			zap.String("decision", res.Decision.String()),
		)
		res.Latency = time.Since(start)
		return res, nil
	}

	switch policy {
	case PolicyThreshold:
		res.Decision = thresholds.Decide(scored.Total)
		res.Reason = thresholdReason(res.Decision, scored.Total, thresholds)
		if opts.Advisory && a.classifier != nil {
			a.consult(ctx, scored, res)
		}
	case PolicyClassifier:
		if a.classifier == nil {
			res.ClassifierConsulted = true
			res.Decision = DecisionDoNotKnow
			res.Reason = PredictionUnavailablePrefix + ": no classifier configured"
			break
		}
		pred, ok := a.consult(ctx, scored, res)
		if !ok {
			res.Decision = DecisionDoNotKnow
			res.Reason = PredictionUnavailablePrefix + ": " + res.Reason
			break
		}
		res.Decision = pred.Decision
		res.Reason = fmt.Sprintf("classifier %s predicted %s (class %d)", pred.Model, pred.Decision, pred.Code)
	}

	res.Latency = time.Since(start)
	return res, nil
}

// consult calls the classifier and records its label on res. On failure it
// stores the cause in res.Reason and returns false; it never returns an error
// so a model outage cannot fail the evaluation.
func (a *Arbiter) consult(ctx context.Context, scored *ScoredScenario, res *Result) (Prediction, bool) {
	res.ClassifierConsulted = true
	res.ClassifierModel = a.classifier.Model()

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	pred, err := a.classifier.Predict(ctx, scored)
	if err != nil {
		a.logger.Warn("classifier prediction unavailable",
			zap.String("model", a.classifier.Model()),
			zap.Error(err),
		)
		if res.Policy == PolicyClassifier {
			res.Reason = err.Error()
		}
		return Prediction{}, false
	}

	label := pred.Decision.String()
	code := pred.Code
	res.PredictionAvailable = true
	res.ClassifierLabel = &label
	res.ClassifierCode = &code
	return pred, true
}

func thresholdReason(d Decision, total int, t ThresholdConfig) string {
	switch d {
	case DecisionEngage:
		return fmt.Sprintf("Total_Score=%d >= %g", total, t.Engage)
	case DecisionAskAuthorization:
		return fmt.Sprintf("%g <= Total_Score=%d < %g", t.AskAuthorization, total, t.Engage)
	case DecisionDoNotKnow:
		return fmt.Sprintf("%g <= Total_Score=%d < %g", t.DoNotKnow, total, t.AskAuthorization)
	default:
		return fmt.Sprintf("Total_Score=%d < %g", total, t.DoNotKnow)
	}
}
