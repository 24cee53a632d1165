package classifiers

import (
	"context"
	"fmt"
	"time"

	"github.com/lauramurakaru/mdmp/internal/engine"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCClassifier calls an external model server over gRPC.
//
// Only wired up if MDMP_CLASSIFIER_ENDPOINT is set. Errors are returned to the
// caller; the arbiter turns them into an unavailable prediction.
type GRPCClassifier struct {
	conn    *grpc.ClientConn
	name    string
	columns []string
	logger  *zap.Logger
}

var _ engine.Classifier = (*GRPCClassifier)(nil)

// NewGRPCClassifier creates a client for the model described by schema.
// endpoint is a gRPC target (e.g. "localhost:50052").
func NewGRPCClassifier(endpoint string, schema *Schema, logger *zap.Logger) (*GRPCClassifier, error) {
	conn, err := grpc.NewClient(
		endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("NewGRPCClassifier: %w", err)
	}

	logger.Info("classifier configured",
		zap.String("endpoint", endpoint),
		zap.String("model", schema.Model),
		zap.Int("columns", len(schema.Columns)),
	)

	return &GRPCClassifier{
		conn:    conn,
		name:    schema.Model,
		columns: append([]string(nil), schema.Columns...),
		logger:  logger,
	}, nil
}

func (c *GRPCClassifier) Name() string {
	return c.name
}

func (c *GRPCClassifier) Predict(ctx context.Context, features []float64) (int, error) {
	req, err := NewPredictRequest(features, c.columns)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		c.logger.Warn("classifier gRPC error",
			zap.String("model", c.name),
			zap.Error(err),
		)
		return 0, err
	}
	class, err := decodeClass(resp)
	if err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if m := resp.GetFields()["model"].GetStringValue(); m != "" && m != c.name {
		c.logger.Debug("model server reports a different model name",
			zap.String("configured", c.name),
			zap.String("reported", m),
		)
	}
	return class, nil
}

func (c *GRPCClassifier) FeatureImportances(ctx context.Context) ([]float64, error) {
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, importancesMethod, &structpb.Struct{}, resp); err != nil {
		return nil, err
	}
	weights, err := numberList(resp, "importances")
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return weights, nil
}

// Close shuts down the gRPC connection.
func (c *GRPCClassifier) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
