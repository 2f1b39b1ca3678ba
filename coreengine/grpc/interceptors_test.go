package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/chuan-gyld/ai-firm/coreengine/testutil"
)

// =============================================================================
// LOGGING INTERCEPTOR TESTS
// =============================================================================

func TestLoggingInterceptor_Success(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	interceptor := LoggingInterceptor(logger)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/TestMethod"}
	handler := func(ctx context.Context, req any) (any, error) {
		return "response", nil
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.NoError(t, err)
	assert.Equal(t, "response", resp)
	assert.Equal(t, []string{"grpc_request_started", "grpc_request_completed"}, logger.Messages())
}

func TestLoggingInterceptor_Error(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	interceptor := LoggingInterceptor(logger)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/FailMethod"}
	handler := func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.NotFound, "resource not found")
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, logger.Has("grpc_request_failed"))

	entries := logger.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, "error", last.Level)
	assert.Equal(t, "NotFound", last.Fields["code"])
}

// =============================================================================
// RECOVERY INTERCEPTOR TESTS
// =============================================================================

func TestRecoveryInterceptor_NoPanic(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	interceptor := RecoveryInterceptor(logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/SafeMethod"}
	handler := func(ctx context.Context, req any) (any, error) {
		return "safe response", nil
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	require.NoError(t, err)
	assert.Equal(t, "safe response", resp)
	assert.Empty(t, logger.Entries())
}

func TestRecoveryInterceptor_Panic(t *testing.T) {
	logger := testutil.NewRecordingLogger()
	interceptor := RecoveryInterceptor(logger, nil)

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/PanicMethod"}
	handler := func(ctx context.Context, req any) (any, error) {
		panic("boom")
	}

	resp, err := interceptor(context.Background(), "request", info, handler)

	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Contains(t, err.Error(), "boom")
	assert.True(t, logger.Has("grpc_panic_recovered"))
}

func TestRecoveryInterceptor_CustomHandler(t *testing.T) {
	sentinel := errors.New("custom")
	interceptor := RecoveryInterceptor(testutil.NewNoopLogger(), func(p any) error {
		return sentinel
	})

	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/PanicMethod"}
	_, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		panic(42)
	})

	assert.ErrorIs(t, err, sentinel)
}

// =============================================================================
// CHAIN TESTS
// =============================================================================

func TestChainUnaryInterceptors_Order(t *testing.T) {
	var order []string
	mark := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			order = append(order, name+":before")
			resp, err := handler(ctx, req)
			order = append(order, name+":after")
			return resp, err
		}
	}

	chain := ChainUnaryInterceptors(mark("outer"), mark("inner"))
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/Chain"}
	resp, err := chain(context.Background(), "req", info, func(ctx context.Context, req any) (any, error) {
		order = append(order, "handler")
		return req, nil
	})

	require.NoError(t, err)
	assert.Equal(t, "req", resp)
	assert.Equal(t, []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}, order)
}

func TestChainUnaryInterceptors_Empty(t *testing.T) {
	chain := ChainUnaryInterceptors()
	resp, err := chain(context.Background(), 1, &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		return req.(int) + 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp)
}

func TestServerOptions(t *testing.T) {
	opts := ServerOptions(testutil.NewNoopLogger())
	assert.Len(t, opts, 2)
}
