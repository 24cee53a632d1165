package classifiers

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service exposed by model servers.
// Messages are google.protobuf.Struct so no generated stubs are needed.
const ServiceName = "mdmp.classifier.v1.ClassifierService"

const (
	predictMethod     = "/" + ServiceName + "/Predict"
	importancesMethod = "/" + ServiceName + "/FeatureImportances"
)

// ClassifierServer is implemented by model servers (and test fakes).
//
// Predict receives {"features": [number...], "columns": [string...]} and
// answers {"class": number, "model": string}.
// FeatureImportances receives {} and answers {"importances": [number...]}.
type ClassifierServer interface {
	Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	FeatureImportances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterClassifierServer registers srv on s.
func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&classifierServiceDesc, srv)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
		{MethodName: "FeatureImportances", Handler: importancesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mdmp/classifier/v1/classifier.proto",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServer).Predict(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func importancesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).FeatureImportances(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: importancesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServer).FeatureImportances(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// NewPredictRequest builds the Predict request body.
func NewPredictRequest(features []float64, columns []string) (*structpb.Struct, error) {
	fs := make([]any, len(features))
	for i, f := range features {
		fs[i] = f
	}
	cs := make([]any, len(columns))
	for i, c := range columns {
		cs[i] = c
	}
	return structpb.NewStruct(map[string]any{
		"features": fs,
		"columns":  cs,
	})
}

// PredictRequestFeatures extracts the feature vector from a Predict request.
func PredictRequestFeatures(req *structpb.Struct) ([]float64, error) {
	return numberList(req, "features")
}

// NewPredictResponse builds a Predict response body.
func NewPredictResponse(class int, model string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"class": structpb.NewNumberValue(float64(class)),
		"model": structpb.NewStringValue(model),
	}}
}

// NewImportancesResponse builds a FeatureImportances response body.
func NewImportancesResponse(weights []float64) *structpb.Struct {
	vals := make([]*structpb.Value, len(weights))
	for i, w := range weights {
		vals[i] = structpb.NewNumberValue(w)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"importances": structpb.NewListValue(&structpb.ListValue{Values: vals}),
	}}
}

func decodeClass(resp *structpb.Struct) (int, error) {
	v, ok := resp.GetFields()["class"]
	if !ok {
		return 0, fmt.Errorf("response has no class field")
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("class field is not a number")
	}
	if n.NumberValue != math.Trunc(n.NumberValue) {
		return 0, fmt.Errorf("class %v is not an integer", n.NumberValue)
	}
	return int(n.NumberValue), nil
}

func numberList(s *structpb.Struct, field string) ([]float64, error) {
	v, ok := s.GetFields()[field]
	if !ok {
		return nil, fmt.Errorf("missing %s field", field)
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%s field is not a list", field)
	}
	out := make([]float64, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("%s[%d] is not a number", field, i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}
