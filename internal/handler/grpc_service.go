package handler

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
	"github.com/pesio-ai/be-hr-workflows/internal/service"
	"github.com/pesio-ai/be-hr-workflows/internal/workflow"
)

// ActorMetadataKey carries the caller on gRPC requests, like ActorHeader on HTTP.
const ActorMetadataKey = "x-actor-id"

// WorkflowsServer is the gRPC surface of the request commands and queries.
// Messages are google.protobuf.Struct documents shaped like the HTTP bodies.
type WorkflowsServer interface {
	GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Transition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var workflowsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkflowsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetRequest", WorkflowsServer.GetRequest),
		unary("Transition", WorkflowsServer.Transition),
		unary("History", WorkflowsServer.History),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hr/workflows/v1/workflows.proto",
}

// RegisterWorkflowsServer mounts srv on s under ServiceName.
func RegisterWorkflowsServer(s grpc.ServiceRegistrar, srv WorkflowsServer) {
	s.RegisterService(&workflowsServiceDesc, srv)
}

func unary(name string, call func(WorkflowsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkflowsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(WorkflowsServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// GRPCHandler implements WorkflowsServer. Coded errors are returned as is;
// the server's interceptor maps them to status codes.
type GRPCHandler struct {
	executor *service.TransitionExecutor
	queries  *service.RequestQueries
	log      *logger.Logger
}

// NewGRPCHandler creates a new gRPC handler
func NewGRPCHandler(executor *service.TransitionExecutor, queries *service.RequestQueries, log *logger.Logger) *GRPCHandler {
	return &GRPCHandler{
		executor: executor,
		queries:  queries,
		log:      log.Component("grpc_workflows"),
	}
}

// GetRequest returns {"id"} as the request summary.
func (h *GRPCHandler) GetRequest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := stringField(in, "id")
	if err != nil {
		return nil, err
	}
	summary, err := h.queries.Summary(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(toSummary(summary))
}

// Transition applies {"requestId", "action", "expectedVersion", "comment"}
// as the actor named in the call metadata.
func (h *GRPCHandler) Transition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	actor, err := grpcActor(ctx)
	if err != nil {
		return nil, err
	}
	id, err := stringField(in, "requestId")
	if err != nil {
		return nil, err
	}
	action, err := stringField(in, "action")
	if err != nil {
		return nil, err
	}
	version, err := intField(in, "expectedVersion")
	if err != nil {
		return nil, err
	}

	h.log.Debug().
		Str("request_id", id).
		Str("actor_id", actor).
		Str("action", action).
		Msg("gRPC Transition called")

	res, err := h.executor.Transition(ctx, service.TransitionCommand{
		RequestID:       id,
		ActorID:         actor,
		Action:          workflow.Action(action),
		Comment:         in.GetFields()["comment"].GetStringValue(),
		ExpectedVersion: version,
		IPAddress:       peerIP(ctx),
	})
	if err != nil {
		return nil, err
	}
	return toStruct(toTransitionResponse(res))
}

// History returns {"id"}'s approval log as {"entries": [...]}.
func (h *GRPCHandler) History(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := stringField(in, "id")
	if err != nil {
		return nil, err
	}
	logs, err := h.queries.History(ctx, id)
	if err != nil {
		return nil, err
	}
	return toStruct(map[string]interface{}{"entries": nonNil(logs)})
}

// ── gRPC helpers ──────────────────────────────────────────────────────────────

func grpcActor(ctx context.Context) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	for _, v := range md.Get(ActorMetadataKey) {
		if actor := strings.TrimSpace(v); actor != "" {
			return actor, nil
		}
	}
	return "", errors.New(errors.ErrCodeUnauthenticated, ActorMetadataKey+" metadata is required")
}

func peerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}

func stringField(in *structpb.Struct, name string) (string, error) {
	v := strings.TrimSpace(in.GetFields()[name].GetStringValue())
	if v == "" {
		return "", errors.InvalidInput(name, name+" is required")
	}
	return v, nil
}

func intField(in *structpb.Struct, name string) (int, error) {
	n, ok := in.GetFields()[name].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, errors.InvalidInput(name, name+" is required")
	}
	if n.NumberValue != math.Trunc(n.NumberValue) || n.NumberValue < 0 {
		return 0, errors.InvalidInput(name, name+" must be a non-negative integer")
	}
	return int(n.NumberValue), nil
}

// toStruct renders v through its JSON form so gRPC and HTTP bodies match.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode response")
	}
	return out, nil
}
