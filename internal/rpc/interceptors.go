package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/example/shop-ledger/internal/auth"
	"github.com/example/shop-ledger/internal/security"
	"github.com/example/shop-ledger/pkg/audit"
)

// CorrelationMetadataKey carries the correlation ID in gRPC metadata.
var CorrelationMetadataKey = strings.ToLower(security.CorrelationIDHeader)

type Auditor interface {
	Append(payload string) *audit.LogEntry
}

// MethodScopes is the scope each ledger method requires.
var MethodScopes = map[string]string{
	FullMethod(MethodComputeRunningBalances):    auth.ScopeLedgerRead,
	FullMethod(MethodRecalculateClientBalances): auth.ScopeLedgerWrite,
	FullMethod(MethodClassifyClients):           auth.ScopeClientsRead,
	FullMethod(MethodAggregateByDate):           auth.ScopeLedgerRead,
	FullMethod(MethodAggregateByMonth):          auth.ScopeLedgerRead,
	FullMethod(MethodAggregateByAccount):        auth.ScopeLedgerRead,
	FullMethod(MethodBuildStatement):            auth.ScopeLedgerRead,
}

// CorrelationInterceptor reuses the caller's correlation ID or mints one,
// and echoes it in the response header.
func CorrelationInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var cid string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(CorrelationMetadataKey); len(vals) > 0 {
				cid = vals[0]
			}
		}
		if cid == "" {
			cid = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(CorrelationMetadataKey, cid))
		return handler(security.WithCorrelationID(ctx, cid), req)
	}
}

func LoggingInterceptor(l *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		level := slog.LevelInfo
		switch code {
		case codes.OK, codes.InvalidArgument, codes.NotFound:
		case codes.Unauthenticated, codes.PermissionDenied:
			level = slog.LevelWarn
		default:
			level = slog.LevelError
		}
		l.Log(ctx, level, "grpc_request",
			"cid", security.CorrelationIDFromContext(ctx),
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return resp, err
	}
}

// AuthInterceptor requires a bearer token on every ledger method and checks
// MethodScopes. Other services, such as health checks, pass through. A nil
// validator disables the check.
func AuthInterceptor(v *auth.JWTValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if v == nil || !strings.HasPrefix(info.FullMethod, "/"+ServiceName+"/") {
			return handler(ctx, req)
		}
		var authz string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get("authorization"); len(vals) > 0 {
				authz = vals[0]
			}
		}
		ai, err := v.AuthInfoFromBearer(authz)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}
		scope, known := MethodScopes[info.FullMethod]
		if !known || !ai.HasScopes(scope) {
			return nil, status.Error(codes.PermissionDenied, "forbidden")
		}
		return handler(auth.WithAuthInfo(ctx, ai), req)
	}
}

// AuditInterceptor appends one chain entry per call.
func AuditInterceptor(a Auditor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		caller := "-"
		if ai, ok := auth.AuthInfoFromContext(ctx); ok {
			caller = ai.ClientID
		}
		a.Append(fmt.Sprintf("transport=grpc cid=%s caller=%s method=%s code=%s dur_ms=%d",
			security.CorrelationIDFromContext(ctx), caller, info.FullMethod, status.Code(err), time.Since(start).Milliseconds()))
		return resp, err
	}
}

// ServerOptions chains the interceptors in their required order. The audit
// entry is written after authentication so it names the caller.
func ServerOptions(l *slog.Logger, v *auth.JWTValidator, a Auditor) []grpc.ServerOption {
	chain := []grpc.UnaryServerInterceptor{
		CorrelationInterceptor(),
		LoggingInterceptor(l),
		AuthInterceptor(v),
	}
	if a != nil {
		chain = append(chain, AuditInterceptor(a))
	}
	return []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(chain...),
		grpc.MaxRecvMsgSize(1024 * 1024),
		grpc.MaxSendMsgSize(4 * 1024 * 1024),
	}
}
