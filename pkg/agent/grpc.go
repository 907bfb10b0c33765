// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/LeeDigitalWorks/zapmap/pkg/grpc/pool"
	"github.com/LeeDigitalWorks/zapmap/pkg/logger"
)

// RequestKey is the metadata key carrying the request id between agents
const RequestKey = "zapmap-request-id"

// NewGRPCServer returns a server sized for block payloads. Handler panics
// become Internal errors; extra options are appended, nil ones skipped.
func NewGRPCServer(extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{Time: pool.KeepAliveTime, Timeout: pool.KeepAliveTimeout}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: pool.KeepAliveTime, PermitWithoutStream: true}),
		grpc.MaxRecvMsgSize(pool.MaxMessageSize),
		grpc.MaxSendMsgSize(pool.MaxMessageSize),
		grpc.ChainUnaryInterceptor(
			recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(recoverPanic)),
			requestIDUnaryInterceptor(),
			metricsUnaryInterceptor(),
		),
	}
	opts = append(opts, slices.DeleteFunc(extra, func(o grpc.ServerOption) bool { return o == nil })...)
	return grpc.NewServer(opts...)
}

func recoverPanic(ctx context.Context, p any) error {
	logger.Ctx(ctx).Error().Str("panic", fmt.Sprint(p)).Msg("agent handler panicked")
	return status.Errorf(codes.Internal, "agent: %v", p)
}

// requestID returns the caller's request id, or a new one
func requestID(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get(RequestKey); len(ids) > 0 && ids[0] != "" {
		return ids[0]
	}
	return uuid.NewString()
}

// requestIDUnaryInterceptor forwards the request id to outgoing calls, sends
// it back as a trailer and tags the request logger with it
func requestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := requestID(ctx)
		ctx = metadata.AppendToOutgoingContext(ctx, RequestKey, id)
		l := logger.Ctx(ctx).With().Str("request_id", id).Logger()
		ctx = logger.WithLogger(ctx, &l)
		_ = grpc.SetTrailer(ctx, metadata.Pairs(RequestKey, id))
		return handler(ctx, req)
	}
}
