package handler

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/pesio-ai/be-hr-workflows/internal/errors"
	"github.com/pesio-ai/be-hr-workflows/internal/logger"
)

func TestMapErrorToGRPC(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
		msg  string
	}{
		{"not found", errors.NotFound("request", "r1"), codes.NotFound, ""},
		{"validation", errors.InvalidInput("action", "action is required"), codes.InvalidArgument, "action is required"},
		{"unauthenticated", errors.New(errors.ErrCodeUnauthenticated, "actor is required"), codes.Unauthenticated, "actor is required"},
		{"forbidden", errors.Forbidden("actor may not approve this request"), codes.PermissionDenied, "actor may not approve this request"},
		{"stale version", errors.Conflict("request", "r1", 4), codes.Aborted, ""},
		{"invalid transition", errors.InvalidTransition("DRAFT", "APPROVE"), codes.FailedPrecondition, ""},
		{"no approver", errors.NoApprover("head of FINANCE", "eng"), codes.FailedPrecondition, ""},
		{"wrapped coded error", fmt.Errorf("loading: %w", errors.NotFound("request", "r1")), codes.NotFound, ""},
		{"internal hides the cause", errors.Wrap(fmt.Errorf("connection reset"), errors.ErrCodeInternal, "failed to get request"), codes.Internal, "internal server error"},
		{"plain error", fmt.Errorf("boom"), codes.Internal, "internal server error"},
		{"status passes through", status.Error(codes.Unavailable, "draining"), codes.Unavailable, "draining"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapErrorToGRPC(tt.err)
			require.Error(t, got)
			assert.Equal(t, tt.code, status.Code(got))
			if tt.msg != "" {
				assert.Equal(t, tt.msg, status.Convert(got).Message())
			}
		})
	}

	assert.NoError(t, mapErrorToGRPC(nil))
}

func dialWorkflows(t *testing.T, f *apiFixture) *grpc.ClientConn {
	t.Helper()
	srv, _ := NewGRPCServer(logger.Nop())
	RegisterWorkflowsServer(srv, NewGRPCHandler(f.exec, f.queries, logger.Nop()))

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method, actor string, fields map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(fields)
	require.NoError(t, err)

	ctx := context.Background()
	if actor != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, ActorMetadataKey, actor)
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out)
	return out, err
}

func TestWorkflowsOverGRPC(t *testing.T) {
	f := newAPI(t)
	conn := dialWorkflows(t, f)
	id := f.createDraft(t)

	errorCases := []struct {
		name   string
		actor  string
		fields map[string]interface{}
		code   codes.Code
	}{
		{"missing actor", "", map[string]interface{}{"requestId": id, "action": "SUBMIT", "expectedVersion": 0}, codes.Unauthenticated},
		{"stale version", "eng", map[string]interface{}{"requestId": id, "action": "SUBMIT", "expectedVersion": 3}, codes.Aborted},
		{"not the requester", "hr-head", map[string]interface{}{"requestId": id, "action": "SUBMIT", "expectedVersion": 0}, codes.PermissionDenied},
		{"not allowed from draft", "eng", map[string]interface{}{"requestId": id, "action": "APPROVE", "expectedVersion": 0}, codes.FailedPrecondition},
		{"missing version", "eng", map[string]interface{}{"requestId": id, "action": "SUBMIT"}, codes.InvalidArgument},
		{"fractional version", "eng", map[string]interface{}{"requestId": id, "action": "SUBMIT", "expectedVersion": 0.5}, codes.InvalidArgument},
		{"unknown request", "eng", map[string]interface{}{"requestId": "nope", "action": "SUBMIT", "expectedVersion": 0}, codes.NotFound},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(t, conn, "Transition", tt.actor, tt.fields)
			assert.Equal(t, tt.code, status.Code(err), "%v", err)
		})
	}

	out, err := invoke(t, conn, "Transition", "eng", map[string]interface{}{"requestId": id, "action": "SUBMIT", "expectedVersion": 0})
	require.NoError(t, err)
	request := out.GetFields()["request"].GetStructValue()
	assert.Equal(t, "PENDING_HR", request.GetFields()["status"].GetStringValue())
	assert.Equal(t, "hr-head", request.GetFields()["currentApprover"].GetStringValue())
	assert.Equal(t, float64(1), out.GetFields()["versionNumber"].GetNumberValue())

	out, err = invoke(t, conn, "GetRequest", "eng", map[string]interface{}{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "PENDING_HR", out.GetFields()["status"].GetStringValue())
	assert.Equal(t, float64(1), out.GetFields()["version"].GetNumberValue())

	_, err = invoke(t, conn, "GetRequest", "eng", map[string]interface{}{"id": "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	out, err = invoke(t, conn, "History", "eng", map[string]interface{}{"id": id})
	require.NoError(t, err)
	entries := out.GetFields()["entries"].GetListValue().GetValues()
	require.Len(t, entries, 1)
	assert.Equal(t, "SUBMIT", entries[0].GetStructValue().GetFields()["action"].GetStringValue())
}
