// Package server implements the gRPC evaluation service.
//
// Messages are google.protobuf.Struct, so callers need no generated stubs:
//
//	Evaluate  {"scenario": {...}, "feedback": {...}} → decision
//	Score     {"scenario": {...}}                    → scores only
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lauramurakaru/mdmp/internal/auth"
	"github.com/lauramurakaru/mdmp/internal/engine"
	"github.com/lauramurakaru/mdmp/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mdmp.v1.EvaluationService"

const (
	EvaluateMethod = "/" + ServiceName + "/Evaluate"
	ScoreMethod    = "/" + ServiceName + "/Score"
)

// EvaluationServer implements the EvaluationService gRPC service.
type EvaluationServer struct {
	arbiter *engine.Arbiter
	auth    auth.Authenticator
	writer  storage.RecordWriter
	logger  *zap.Logger
}

// NewEvaluationServer creates a new EvaluationServer. writer may be nil.
func NewEvaluationServer(
	arbiter *engine.Arbiter,
	authenticator auth.Authenticator,
	writer storage.RecordWriter,
	logger *zap.Logger,
) *EvaluationServer {
	return &EvaluationServer{
		arbiter: arbiter,
		auth:    authenticator,
		writer:  writer,
		logger:  logger,
	}
}

// Register registers the service on s.
func (s *EvaluationServer) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&evaluationServiceDesc, s)
}

// Evaluate implements the EvaluationService.Evaluate RPC.
func (s *EvaluationServer) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	// 1. Authenticate
	project, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Decode scenario and optional feedback
	raw, err := scenarioFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	fb, err := feedbackFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	// 3. Decide
	res, err := s.arbiter.DecideWith(ctx, raw, project.Policy, project.Options(s.arbiter.Thresholds()))
	if err != nil {
		return nil, s.engineError(err)
	}

	requestID := uuid.New().String()

	// 4. Fire-and-forget record
	if project.RecordDecisions && s.writer != nil {
		s.writer.Write(storage.NewDecisionRecord(requestID, project.ProjectID, res, fb, "grpc"))
	}

	return resultToStruct(requestID, res)
}

// Score implements the EvaluationService.Score RPC.
func (s *EvaluationServer) Score(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.authenticate(ctx); err != nil {
		return nil, err
	}
	raw, err := scenarioFromStruct(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	sc, err := engine.NewScenario(raw)
	if err != nil {
		return nil, s.engineError(err)
	}
	scored, err := engine.Score(sc)
	if err != nil {
		return nil, s.engineError(err)
	}
	return structpb.NewStruct(scoreFields(scored))
}

func (s *EvaluationServer) authenticate(ctx context.Context) (*auth.ProjectContext, error) {
	key, err := auth.APIKeyFromMetadata(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
	project, err := s.auth.Authenticate(ctx, key)
	if errors.Is(err, auth.ErrAuthUnavailable) {
		return nil, status.Errorf(codes.Unavailable, "auth failed: %v", err)
	}
	if err != nil {
		return nil, status.Errorf(codes.Unauthenticated, "auth failed: %v", err)
	}
	return project, nil
}

// engineError maps scenario validation failures to InvalidArgument.
func (s *EvaluationServer) engineError(err error) error {
	var (
		unmapped  *engine.UnmappedValueError
		malformed *engine.MalformedRangeError
		missing   *engine.MissingAttributeError
		unknown   *engine.UnknownAttributeError
	)
	if errors.As(err, &unmapped) || errors.As(err, &malformed) ||
		errors.As(err, &missing) || errors.As(err, &unknown) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	var order *engine.ThresholdOrderError
	if errors.As(err, &order) {
		s.logger.Warn("project thresholds conflict with server defaults", zap.Error(err))
		return status.Error(codes.FailedPrecondition, "project policy conflicts with the server threshold defaults: "+order.Error())
	}
	s.logger.Error("evaluation failed", zap.Error(err))
	return status.Error(codes.Internal, "evaluation failed")
}

func scenarioFromStruct(req *structpb.Struct) (map[string]string, error) {
	sv := req.GetFields()["scenario"].GetStructValue()
	if sv == nil {
		return nil, errors.New("scenario must be an object")
	}
	out := make(map[string]string, len(sv.GetFields()))
	for k, v := range sv.GetFields() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			out[k] = kind.StringValue
		case *structpb.Value_NumberValue:
			out[k] = strconv.FormatFloat(kind.NumberValue, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("scenario value for %q must be a string or number", k)
		}
	}
	return out, nil
}

func feedbackFromStruct(req *structpb.Struct) (*storage.Feedback, error) {
	fv := req.GetFields()["feedback"].GetStructValue()
	if fv == nil {
		return nil, nil
	}
	b, err := fv.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}
	var fb storage.Feedback
	if err := json.Unmarshal(b, &fb); err != nil {
		return nil, fmt.Errorf("feedback: %w", err)
	}
	if fb.ParticipantDecision != "" {
		if _, err := engine.ParseDecision(fb.ParticipantDecision); err != nil {
			return nil, fmt.Errorf("feedback: %w", err)
		}
	}
	return &fb, nil
}

func scoreFields(sc *engine.ScoredScenario) map[string]any {
	scores := make(map[string]any, engine.NumAttributes+1)
	for k, v := range sc.Features() {
		scores[k] = v
	}
	pcts := make(map[string]any, engine.NumAttributes)
	for a, p := range engine.PercentageContribution(sc) {
		pcts[a.Key()] = p
	}
	return map[string]any{
		"scores":      scores,
		"total_score": sc.Total,
		"percentages": pcts,
	}
}

func resultToStruct(requestID string, res *engine.Result) (*structpb.Struct, error) {
	fields := scoreFields(res.Scored)
	fields["request_id"] = requestID
	fields["decision"] = res.Decision.String()
	fields["reason"] = res.Reason
	fields["policy"] = res.Policy.String()
	fields["override_rule"] = nil
	if res.Override.Matched {
		fields["override_rule"] = res.Override.Rule
	}
	fields["thresholds"] = map[string]any{
		"engage":            res.Thresholds.Engage,
		"ask_authorization": res.Thresholds.AskAuthorization,
		"do_not_know":       res.Thresholds.DoNotKnow,
	}
	if res.ClassifierConsulted {
		classifier := map[string]any{
			"model":                res.ClassifierModel,
			"prediction_available": res.PredictionAvailable,
			"label":                nil,
			"code":                 nil,
		}
		if res.ClassifierLabel != nil {
			classifier["label"] = *res.ClassifierLabel
		}
		if res.ClassifierCode != nil {
			classifier["code"] = *res.ClassifierCode
		}
		fields["classifier"] = classifier
	}
	fields["latency_ms"] = float64(res.Latency) / float64(time.Millisecond)
	return structpb.NewStruct(fields)
}

var evaluationServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*evaluationService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Evaluate", Handler: unaryHandler(EvaluateMethod, evaluationService.Evaluate)},
		{MethodName: "Score", Handler: unaryHandler(ScoreMethod, evaluationService.Score)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mdmp/v1/evaluation.proto",
}

type evaluationService interface {
	Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Score(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(evaluationService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(evaluationService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(svc, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
