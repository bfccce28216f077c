package codec

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/situation-engine/internal/executor"
	"github.com/danielpatrickdp/situation-engine/internal/situation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region methods
// The sidecar exposes two unary RPCs whose messages are protobuf well-known
// types, so no generated stubs are needed on this side:
//
//	Embed:   google.protobuf.StringValue → google.protobuf.ListValue (numbers)
//	Execute: google.protobuf.Struct{tool, operation, params} → google.protobuf.Struct{success, failure_reason}
const (
	embedMethod   = "/situation.v1.EmbeddingService/Embed"
	executeMethod = "/situation.v1.ActionService/Execute"
)

// #endregion methods

// #region client-struct
// invoker is the subset of *grpc.ClientConn the client uses.
type invoker interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
}

// CodecClient wraps the gRPC connection to the inference/device sidecar.
type CodecClient struct {
	conn *grpc.ClientConn
	inv  invoker
}

// #endregion client-struct

// #region constructor
// NewCodecClient connects to the sidecar gRPC server.
func NewCodecClient(addr string) (*CodecClient, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &CodecClient{conn: conn, inv: conn}, nil
}

// NewCodecClientWithInvoker creates a CodecClient over an injected invoker.
// Used for testing without a real gRPC connection.
func NewCodecClientWithInvoker(inv invoker) *CodecClient {
	return &CodecClient{inv: inv}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *CodecClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region embed
// Embed sends text to the embedding service.
func (c *CodecClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp := &structpb.ListValue{}
	if err := c.inv.Invoke(ctx, embedMethod, wrapperspb.String(text), resp); err != nil {
		return nil, fmt.Errorf("embed rpc: %w", err)
	}
	values := resp.GetValues()
	vec := make([]float32, len(values))
	for i, v := range values {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("embed rpc: element %d is not a number", i)
		}
		vec[i] = float32(n.NumberValue)
	}
	return vec, nil
}

// #endregion embed

// #region execute
// Execute asks the device service to run one action. Transport errors are
// reported as a failed result, never returned.
func (c *CodecClient) Execute(ctx context.Context, a situation.Action) executor.Result {
	params := make(map[string]any, len(a.Params))
	for k, v := range a.Params {
		params[k] = v
	}
	req, err := structpb.NewStruct(map[string]any{
		"tool":      a.Tool,
		"operation": a.Operation,
		"params":    params,
	})
	if err != nil {
		return executor.Result{Action: a, FailureReason: fmt.Sprintf("encode action: %v", err)}
	}

	resp := &structpb.Struct{}
	if err := c.inv.Invoke(ctx, executeMethod, req, resp); err != nil {
		return executor.Result{Action: a, FailureReason: fmt.Sprintf("execute rpc: %v", err)}
	}

	fields := resp.GetFields()
	return executor.Result{
		Action:        a,
		Success:       fields["success"].GetBoolValue(),
		FailureReason: fields["failure_reason"].GetStringValue(),
	}
}

// #endregion execute
