package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/szmak/djszmak-bot/internal/app/notification"
)

// ControlClient calls the control service.
type ControlClient struct {
	token string

	play       *connect.Client[PlayRequest, PlayResponse]
	pause      *connect.Client[GuildRequest, CommandResponse]
	resume     *connect.Client[GuildRequest, CommandResponse]
	skip       *connect.Client[GuildRequest, CommandResponse]
	stop       *connect.Client[GuildRequest, CommandResponse]
	leave      *connect.Client[GuildRequest, CommandResponse]
	volume     *connect.Client[VolumeRequest, CommandResponse]
	queue      *connect.Client[GuildRequest, QueueResponse]
	status     *connect.Client[GuildRequest, GuildStatus]
	listGuilds *connect.Client[ListGuildsRequest, ListGuildsResponse]
	subscribe  *connect.Client[SubscribeRequest, notification.Notification]
}

// NewControlClient creates a client for the service at baseURL. token is
// sent as the admin token on every call.
func NewControlClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *ControlClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &ControlClient{
		token:      token,
		play:       connect.NewClient[PlayRequest, PlayResponse](httpClient, baseURL+PlayProcedure, opts...),
		pause:      connect.NewClient[GuildRequest, CommandResponse](httpClient, baseURL+PauseProcedure, opts...),
		resume:     connect.NewClient[GuildRequest, CommandResponse](httpClient, baseURL+ResumeProcedure, opts...),
		skip:       connect.NewClient[GuildRequest, CommandResponse](httpClient, baseURL+SkipProcedure, opts...),
		stop:       connect.NewClient[GuildRequest, CommandResponse](httpClient, baseURL+StopProcedure, opts...),
		leave:      connect.NewClient[GuildRequest, CommandResponse](httpClient, baseURL+LeaveProcedure, opts...),
		volume:     connect.NewClient[VolumeRequest, CommandResponse](httpClient, baseURL+VolumeProcedure, opts...),
		queue:      connect.NewClient[GuildRequest, QueueResponse](httpClient, baseURL+QueueProcedure, opts...),
		status:     connect.NewClient[GuildRequest, GuildStatus](httpClient, baseURL+StatusProcedure, opts...),
		listGuilds: connect.NewClient[ListGuildsRequest, ListGuildsResponse](httpClient, baseURL+ListGuildsProcedure, opts...),
		subscribe:  connect.NewClient[SubscribeRequest, notification.Notification](httpClient, baseURL+SubscribeProcedure, opts...),
	}
}

func newRequest[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set(AdminTokenHeader, token)
	return req
}

func unary[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], msg *Req, token string) (*Res, error) {
	res, err := c.CallUnary(ctx, newRequest(msg, token))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

func (c *ControlClient) Play(ctx context.Context, req *PlayRequest) (*PlayResponse, error) {
	return unary(ctx, c.play, req, c.token)
}

func (c *ControlClient) Pause(ctx context.Context, guildID string) (*CommandResponse, error) {
	return unary(ctx, c.pause, &GuildRequest{GuildID: guildID}, c.token)
}

func (c *ControlClient) Resume(ctx context.Context, guildID string) (*CommandResponse, error) {
	return unary(ctx, c.resume, &GuildRequest{GuildID: guildID}, c.token)
}

func (c *ControlClient) Skip(ctx context.Context, guildID string) (*CommandResponse, error) {
	return unary(ctx, c.skip, &GuildRequest{GuildID: guildID}, c.token)
}

func (c *ControlClient) Stop(ctx context.Context, guildID string) (*CommandResponse, error) {
	return unary(ctx, c.stop, &GuildRequest{GuildID: guildID}, c.token)
}

func (c *ControlClient) Leave(ctx context.Context, guildID string) (*CommandResponse, error) {
	return unary(ctx, c.leave, &GuildRequest{GuildID: guildID}, c.token)
}

func (c *ControlClient) SetVolume(ctx context.Context, guildID string, volume int) (*CommandResponse, error) {
	return unary(ctx, c.volume, &VolumeRequest{GuildID: guildID, Volume: volume}, c.token)
}

func (c *ControlClient) GetQueue(ctx context.Context, guildID string) (*QueueResponse, error) {
	return unary(ctx, c.queue, &GuildRequest{GuildID: guildID}, c.token)
}

func (c *ControlClient) GetStatus(ctx context.Context, guildID string) (*GuildStatus, error) {
	return unary(ctx, c.status, &GuildRequest{GuildID: guildID}, c.token)
}

func (c *ControlClient) ListGuilds(ctx context.Context) (*ListGuildsResponse, error) {
	return unary(ctx, c.listGuilds, &ListGuildsRequest{}, c.token)
}

// SubscribeNotifications calls fn for every notification until the stream
// ends, ctx is done or fn returns false.
func (c *ControlClient) SubscribeNotifications(ctx context.Context, guildID string, fn func(*notification.Notification) bool) error {
	stream, err := c.subscribe.CallServerStream(ctx, newRequest(&SubscribeRequest{GuildID: guildID}, c.token))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if !fn(stream.Msg()) {
			return nil
		}
	}
	return stream.Err()
}
