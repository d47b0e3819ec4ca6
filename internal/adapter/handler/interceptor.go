package handler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryInterceptor logs each call and turns panics into Internal errors.
func UnaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("method", info.FullMethod).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("grpc handler panic")
			err = status.Error(codes.Internal, "internal error")
		}

		code := status.Code(err)
		event := log.Debug()
		if code == codes.Internal || code == codes.Unknown {
			event = log.Error().Err(err)
		}
		event.Str("method", info.FullMethod).Str("code", code.String()).Dur("elapsed", time.Since(start)).Msg("grpc call")
	}()
	return handler(ctx, req)
}
