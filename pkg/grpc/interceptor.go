package grpc

import (
	"context"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

// ClientLoggingInterceptor 記錄下游呼叫的耗時與錯誤
func ClientLoggingInterceptor(log *logger.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		if err != nil {
			log.Warn("grpc call failed",
				"method", method, "target", cc.Target(), "code", status.Code(err).String(),
				"duration", time.Since(start), "error", err)
		}
		return err
	}
}

// ServerLoggingInterceptor 記錄每個請求的結果與耗時
func ServerLoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		kv := []interface{}{"method", info.FullMethod, "code", code.String(), "duration", time.Since(start)}
		switch code {
		case codes.OK, codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound:
			log.Debug("grpc request", kv...)
		default:
			log.Warn("grpc request failed", append(kv, "error", err)...)
		}
		return resp, err
	}
}

// RecoveryInterceptor handler panic 時回傳 Internal，不讓整個行程掛掉
func RecoveryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("grpc handler panic", "method", info.FullMethod, "panic", r, "stack", string(debug.Stack()))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
