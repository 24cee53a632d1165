package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lauramurakaru/mdmp/internal/auth"
	"github.com/lauramurakaru/mdmp/internal/config"
	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/engine/classifiers"
	"github.com/lauramurakaru/mdmp/internal/store"
	"go.uber.org/zap"
)

const verifyTimeout = 5 * time.Second

// buildClassifier connects the configured model server. It returns a nil
// adapter when no endpoint is set. A schema that does not match the model's
// feature importances is fatal; an unreachable model is only logged, since
// the arbiter reports unavailable predictions on its own.
func buildClassifier(ctx context.Context, cfg config.ClassifierConfig, logger *zap.Logger) (*engine.ClassifierAdapter, func(), error) {
	if cfg.Endpoint == "" {
		return nil, func() {}, nil
	}

	schema, err := classifiers.LoadSchema(cfg.SchemaPath)
	if err != nil {
		return nil, nil, err
	}
	client, err := classifiers.NewGRPCClassifier(cfg.Endpoint, schema, logger)
	if err != nil {
		return nil, nil, err
	}
	closeClient := func() { _ = client.Close() }

	adapter, err := schema.NewAdapter(client)
	if err != nil {
		closeClient()
		return nil, nil, err
	}
	if cols := adapter.UnresolvedColumns(); len(cols) > 0 {
		logger.Warn("classifier schema columns unknown to the score table, sent as zero",
			zap.Strings("columns", cols),
		)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	if err := adapter.Verify(verifyCtx); err != nil {
		var mismatch *engine.SchemaMismatchError
		if errors.As(err, &mismatch) {
			closeClient()
			return nil, nil, fmt.Errorf("classifier %s: %w", schema.Model, err)
		}
		logger.Warn("classifier not verified at startup",
			zap.String("endpoint", cfg.Endpoint),
			zap.Error(err),
		)
	}
	return adapter, closeClient, nil
}

// buildArbiter assembles the arbiter from config. The returned func releases
// the classifier connection.
func buildArbiter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine.Arbiter, func(), error) {
	adapter, closeClassifier, err := buildClassifier(ctx, cfg.Classifier, logger)
	if err != nil {
		return nil, nil, err
	}
	arbiter, err := engine.NewArbiter(engine.ArbiterConfig{
		Classifier:        adapter,
		Thresholds:        cfg.Thresholds,
		ClassifierTimeout: cfg.Classifier.Timeout(),
		Logger:            logger,
	})
	if err != nil {
		closeClassifier()
		return nil, nil, err
	}
	return arbiter, closeClassifier, nil
}

// policyLister is the part of *store.Store needed to audit project policies.
type policyLister interface {
	ListProjects(ctx context.Context, params store.ListProjectsParams) ([]*store.Project, int, error)
	GetPolicy(ctx context.Context, projectID string) (*store.Policy, error)
}

// conflictingPolicies returns the projects whose partial threshold override
// is no longer ordered once overlaid on serverDefault. Evaluations for those
// projects fail until the policy or the defaults change.
func conflictingPolicies(ctx context.Context, st policyLister, serverDefault engine.ThresholdConfig) ([]string, error) {
	var ids []string
	params := store.ListProjectsParams{Limit: 500}
	for {
		projects, total, err := st.ListProjects(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("conflictingPolicies: %w", err)
		}
		for _, p := range projects {
			pol, err := st.GetPolicy(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("conflictingPolicies %s: %w", p.ID, err)
			}
			if pol == nil {
				continue
			}
			pc, err := auth.ParseDecisionConfig(pol.DecisionConfig)
			if err != nil {
				// Auth ignores unparseable configs and uses the defaults.
				continue
			}
			if pc.Validate(serverDefault) != nil {
				ids = append(ids, p.ID)
			}
		}
		params.Offset += len(projects)
		if len(projects) == 0 || params.Offset >= total {
			return ids, nil
		}
	}
}

// warnConflictingPolicies logs every project that a threshold reload leaves
// with an invalid override.
func warnConflictingPolicies(ctx context.Context, st policyLister, serverDefault engine.ThresholdConfig, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ids, err := conflictingPolicies(ctx, st, serverDefault)
	if err != nil {
		logger.Warn("project policy audit failed", zap.Error(err))
		return
	}
	if len(ids) > 0 {
		logger.Warn("project thresholds conflict with the reloaded defaults; their evaluations will be rejected",
			zap.Strings("project_ids", ids),
		)
	}
}
