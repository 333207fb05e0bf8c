package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/ftb/pkg/metrics"
	"github.com/cuemby/ftb/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nil, codes.OK},
		{fmt.Errorf("wrapped: %w", types.ErrInvalidClientInfo), codes.InvalidArgument},
		{types.ErrClientNotConnected, codes.FailedPrecondition},
		{types.ErrDuplicateEventName, codes.AlreadyExists},
		{types.ErrSubscriptionNotFound, codes.NotFound},
		{types.ErrInternal, codes.Internal},
		{types.ErrInvalidCallback, codes.InvalidArgument},
		{context.Canceled, codes.Canceled},
		{errors.New("boom"), codes.Unknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "%v", tt.err)
	}
}

func TestFromStatus(t *testing.T) {
	err := status.Error(codes.FailedPrecondition, "event not declared: FAIL in FTB.DEMO")

	remote := FromStatus(err, metadata.Pairs(ErrorKindKey, "EventNotDeclared"))
	assert.ErrorIs(t, remote, types.ErrEventNotDeclared)
	assert.Equal(t, "event not declared: FAIL in FTB.DEMO", remote.Error())

	var re *RemoteError
	require.ErrorAs(t, remote, &re)
	assert.Equal(t, codes.FailedPrecondition, re.Code)

	assert.Same(t, err, FromStatus(err, nil), "no trailer keeps the transport error")
	assert.Same(t, err, FromStatus(err, metadata.Pairs(ErrorKindKey, "Bogus")))
	assert.NoError(t, FromStatus(nil, nil))
}

func TestCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, CodecName, c.Name())

	data, err := c.Marshal(&PublishRequest{ClientID: "c1", EventName: "FAIL", Payload: []byte("x=1")})
	require.NoError(t, err)

	var req PublishRequest
	require.NoError(t, c.Unmarshal(data, &req))
	assert.Equal(t, []byte("x=1"), req.Payload)
}

func TestIsReadOnlyMethod(t *testing.T) {
	assert.True(t, isReadOnlyMethod(MethodStats))
	assert.True(t, isReadOnlyMethod(MethodListDeclarations))
	assert.False(t, isReadOnlyMethod(MethodPublish))
	assert.False(t, isReadOnlyMethod(MethodConnect))
	assert.Equal(t, "Publish", methodName(MethodPublish))
}

func TestReadOnlyInterceptor(t *testing.T) {
	interceptor := ReadOnlyInterceptor()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return "ok", nil }

	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodStats}, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)

	_, err = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodPublish}, handler)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor()
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: MethodPublish},
		func(ctx context.Context, req interface{}) (interface{}, error) {
			panic("bad request")
		})
	assert.Equal(t, codes.Internal, status.Code(err))
}

type staticStats types.Stats

func (s staticStats) Stats() types.Stats { return types.Stats(s) }

func TestHealthServerStats(t *testing.T) {
	checker := metrics.NewHealthChecker(metrics.ComponentAPI)
	hs := NewHealthServer(checker, staticStats{Clients: 2, Subscriptions: 3})

	rec := httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"clients":2`)

	rec = httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	hs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, hs.Shutdown(context.Background()))
}
