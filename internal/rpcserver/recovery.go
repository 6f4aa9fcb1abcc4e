package rpcserver

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"google.golang.org/grpc"

	"rpchost/internal/rpcerr"
	"rpchost/pkg/rpcapi"
)

// recoveryHandler turns a panic in any manager method into an ErrorGeneric
// gRPC error rather than crashing the whole listener - the same contract the
// original per-call wrapper gives by catching every Exception.
func recoveryHandler(p any) error {
	return rpcerr.ToGRPC(rpcerr.Newf(rpcapi.ErrorGeneric, "panic in RPC handler: %v", p))
}

func (s *Server) unaryRecovery(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	return recovery.UnaryServerInterceptor(recovery.WithRecoveryHandler(recoveryHandler))(ctx, req, info, handler)
}

func (s *Server) streamRecovery(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	return recovery.StreamServerInterceptor(recovery.WithRecoveryHandler(recoveryHandler))(srv, ss, info, handler)
}
