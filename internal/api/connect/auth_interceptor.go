// Package connect provides the Connect RPC control service.
package connect

import (
	"context"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/infra/config"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
	// RequestIDHeader carries the ID assigned to each call.
	RequestIDHeader = "X-Request-Id"
)

// adminAuthInterceptor validates admin tokens on unary and streaming calls.
type adminAuthInterceptor struct {
	token string
}

// NewAdminAuthInterceptor creates an interceptor that validates admin tokens
// from request headers for every ControlService procedure.
func NewAdminAuthInterceptor(cfg *config.Config) connect.Interceptor {
	return &adminAuthInterceptor{token: cfg.Admin.Token}
}

func (i *adminAuthInterceptor) authorize(procedure, token string) (string, error) {
	requestID := uuid.NewString()
	if token == "" || token != i.token {
		zlog.Warn().Msgf("api: unauthenticated call: procedure=%s request_id=%s", procedure, requestID)
		return requestID, connect.NewError(connect.CodeUnauthenticated, nil)
	}
	zlog.Debug().Msgf("api: call: procedure=%s request_id=%s", procedure, requestID)
	return requestID, nil
}

func (i *adminAuthInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		requestID, err := i.authorize(req.Spec().Procedure, req.Header().Get(AdminTokenHeader))
		if err != nil {
			return nil, err
		}

		res, err := next(ctx, req)
		if err != nil {
			return nil, err
		}
		res.Header().Set(RequestIDHeader, requestID)
		return res, nil
	}
}

func (i *adminAuthInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *adminAuthInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		requestID, err := i.authorize(conn.Spec().Procedure, conn.RequestHeader().Get(AdminTokenHeader))
		if err != nil {
			return err
		}
		conn.ResponseHeader().Set(RequestIDHeader, requestID)
		return next(ctx, conn)
	}
}
