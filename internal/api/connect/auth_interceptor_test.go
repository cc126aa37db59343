package connect

import (
	"context"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szmak/djszmak-bot/internal/infra/config"
)

func TestAdminAuthInterceptor_WrapUnary(t *testing.T) {
	interceptor := NewAdminAuthInterceptor(&config.Config{Admin: config.AdminConfig{Token: testToken}})

	newReq := func(token string) *connect.Request[GuildRequest] {
		req := connect.NewRequest(&GuildRequest{GuildID: "g1"})
		req.Header().Set(AdminTokenHeader, token)
		return req
	}

	t.Run("handler error keeps its code", func(t *testing.T) {
		next := interceptor.WrapUnary(func(context.Context, connect.AnyRequest) (connect.AnyResponse, error) {
			var res *connect.Response[CommandResponse]
			return res, connect.NewError(connect.CodeInvalidArgument, nil)
		})

		var res connect.AnyResponse
		var err error
		require.NotPanics(t, func() {
			res, err = next(context.Background(), newReq(testToken))
		})
		assert.Nil(t, res)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	})

	t.Run("success sets request id", func(t *testing.T) {
		next := interceptor.WrapUnary(func(context.Context, connect.AnyRequest) (connect.AnyResponse, error) {
			return connect.NewResponse(&CommandResponse{Success: true}), nil
		})

		res, err := next(context.Background(), newReq(testToken))
		require.NoError(t, err)
		assert.NotEmpty(t, res.Header().Get(RequestIDHeader))
	})

	t.Run("bad token never reaches handler", func(t *testing.T) {
		called := false
		next := interceptor.WrapUnary(func(context.Context, connect.AnyRequest) (connect.AnyResponse, error) {
			called = true
			return connect.NewResponse(&CommandResponse{}), nil
		})

		_, err := next(context.Background(), newReq("wrong"))
		assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
		assert.False(t, called)
	})
}
