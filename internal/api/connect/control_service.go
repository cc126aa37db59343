package connect

import (
	"context"
	"net/http"
	"sync"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/app/notification"
	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/app/session"
	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// ControlServiceName is the fully-qualified name of the control service.
const ControlServiceName = "djszmak.control.v1.ControlService"

// Procedure paths of the control service.
const (
	PlayProcedure       = "/" + ControlServiceName + "/Play"
	PauseProcedure      = "/" + ControlServiceName + "/Pause"
	ResumeProcedure     = "/" + ControlServiceName + "/Resume"
	SkipProcedure       = "/" + ControlServiceName + "/Skip"
	StopProcedure       = "/" + ControlServiceName + "/Stop"
	LeaveProcedure      = "/" + ControlServiceName + "/Leave"
	VolumeProcedure     = "/" + ControlServiceName + "/SetVolume"
	QueueProcedure      = "/" + ControlServiceName + "/GetQueue"
	StatusProcedure     = "/" + ControlServiceName + "/GetStatus"
	ListGuildsProcedure = "/" + ControlServiceName + "/ListGuilds"
	SubscribeProcedure  = "/" + ControlServiceName + "/SubscribeNotifications"
)

// defaultRequesterName is recorded on tracks queued through the API.
const defaultRequesterName = "djctl"

// Sessions is the part of the session manager the control service drives.
type Sessions interface {
	Play(ctx context.Context, req session.PlayRequest) (*session.PlayResponse, error)
	Pause(guildID string) error
	Resume(guildID string) error
	Skip(guildID string) (*track.QueuedTrack, error)
	Stop(guildID string) (int, error)
	Leave(guildID string) error
	SetVolume(guildID string, percent int) error
	Queue(guildID string) ([]track.QueuedTrack, error)
	Status(guildID string) (playback.Status, error)
	Statuses() []playback.Status
	Message(code string, args ...any) string
	GetNotificationManager() *notification.Manager
	Done() <-chan struct{}
}

// ControlService implements the ControlService RPC.
type ControlService struct {
	sessions Sessions
}

// NewControlService creates a new ControlService.
func NewControlService(sessions Sessions) *ControlService {
	return &ControlService{sessions: sessions}
}

// NewControlServiceHandler builds an HTTP handler serving every procedure of
// svc. It returns the path to mount the handler on.
func NewControlServiceHandler(svc *ControlService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(PlayProcedure, connect.NewUnaryHandler(PlayProcedure, svc.Play, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, svc.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, svc.Resume, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, svc.Skip, opts...))
	mux.Handle(StopProcedure, connect.NewUnaryHandler(StopProcedure, svc.Stop, opts...))
	mux.Handle(LeaveProcedure, connect.NewUnaryHandler(LeaveProcedure, svc.Leave, opts...))
	mux.Handle(VolumeProcedure, connect.NewUnaryHandler(VolumeProcedure, svc.SetVolume, opts...))
	mux.Handle(QueueProcedure, connect.NewUnaryHandler(QueueProcedure, svc.GetQueue, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, svc.GetStatus, opts...))
	mux.Handle(ListGuildsProcedure, connect.NewUnaryHandler(ListGuildsProcedure, svc.ListGuilds, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, svc.SubscribeNotifications, opts...))
	return "/" + ControlServiceName + "/", mux
}

func requireGuild(guildID string) error {
	if guildID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("guild_id is required"))
	}
	return nil
}

// commandResponse turns a command's error into a response. Only a closed
// session manager is a transport-level error.
func (s *ControlService) commandResponse(err error, okCode string, args ...any) (*connect.Response[CommandResponse], error) {
	if errors.Is(err, session.ErrClosed) || errors.Is(err, playback.ErrClosed) {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	if err != nil {
		code := session.Code(err)
		return connect.NewResponse(&CommandResponse{
			Success: false,
			Code:    code,
			Message: s.sessions.Message(code),
		}), nil
	}
	return connect.NewResponse(&CommandResponse{
		Success: true,
		Code:    okCode,
		Message: s.sessions.Message(okCode, args...),
	}), nil
}

// Play resolves a URL and queues its tracks.
func (s *ControlService) Play(
	ctx context.Context,
	req *connect.Request[PlayRequest],
) (*connect.Response[PlayResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	if req.Msg.URL == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("url is required"))
	}

	requester := track.Requester{ID: req.Msg.RequesterID, Name: req.Msg.RequesterName}
	if requester.Name == "" {
		requester.Name = defaultRequesterName
	}

	resp, err := s.sessions.Play(ctx, session.PlayRequest{
		GuildID:   req.Msg.GuildID,
		ChannelID: req.Msg.ChannelID,
		Input:     req.Msg.URL,
		Requester: requester,
	})
	if errors.Is(err, session.ErrClosed) {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	if err != nil {
		code := session.Code(err)
		return connect.NewResponse(&PlayResponse{
			Success: false,
			Code:    code,
			Message: s.sessions.Message(code),
		}), nil
	}

	infos := make([]*notification.TrackInfo, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		infos = append(infos, session.BuildTrackInfo(&track.QueuedTrack{Track: t, Requester: requester}))
	}

	var message string
	switch {
	case resp.Code == "added_playlist":
		message = s.sessions.Message(resp.Code, len(resp.Tracks))
	case resp.Code == "now_playing" && resp.Current != nil:
		message = s.sessions.Message(resp.Code, resp.Current.Track.Title)
	default:
		message = s.sessions.Message("added_to_queue", resp.Tracks[0].Title)
	}

	return connect.NewResponse(&PlayResponse{
		Success:  true,
		Code:     resp.Code,
		Message:  message,
		Tracks:   infos,
		Position: resp.Position,
		Current:  session.BuildTrackInfo(resp.Current),
	}), nil
}

// Pause pauses the current track.
func (s *ControlService) Pause(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[CommandResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	return s.commandResponse(s.sessions.Pause(req.Msg.GuildID), "paused")
}

// Resume resumes the paused track.
func (s *ControlService) Resume(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[CommandResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	return s.commandResponse(s.sessions.Resume(req.Msg.GuildID), "resumed")
}

// Skip skips the current track.
func (s *ControlService) Skip(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[CommandResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	next, err := s.sessions.Skip(req.Msg.GuildID)
	code := "skipped"
	if err == nil && next == nil {
		code = "skipped_queue_empty"
	}
	res, rerr := s.commandResponse(err, code)
	if res != nil && next != nil {
		res.Msg.Next = session.BuildTrackInfo(next)
	}
	return res, rerr
}

// Stop stops playback and clears the queue.
func (s *ControlService) Stop(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[CommandResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	removed, err := s.sessions.Stop(req.Msg.GuildID)
	res, rerr := s.commandResponse(err, "stopped")
	if res != nil {
		res.Msg.Removed = removed
	}
	return res, rerr
}

// Leave disconnects from the guild's voice channel.
func (s *ControlService) Leave(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[CommandResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	return s.commandResponse(s.sessions.Leave(req.Msg.GuildID), "left")
}

// SetVolume sets the playback volume.
func (s *ControlService) SetVolume(
	ctx context.Context,
	req *connect.Request[VolumeRequest],
) (*connect.Response[CommandResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	return s.commandResponse(s.sessions.SetVolume(req.Msg.GuildID, req.Msg.Volume), "volume_set", req.Msg.Volume)
}

// GetQueue returns the queued tracks.
func (s *ControlService) GetQueue(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[QueueResponse], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	items, err := s.sessions.Queue(req.Msg.GuildID)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}

	resp := &QueueResponse{Tracks: make([]*notification.TrackInfo, 0, len(items))}
	for i := range items {
		resp.Tracks = append(resp.Tracks, session.BuildTrackInfo(&items[i]))
		resp.TotalSec += items[i].Track.DurationSeconds()
	}
	return connect.NewResponse(resp), nil
}

// GetStatus returns a guild's playback status.
func (s *ControlService) GetStatus(
	ctx context.Context,
	req *connect.Request[GuildRequest],
) (*connect.Response[GuildStatus], error) {
	if err := requireGuild(req.Msg.GuildID); err != nil {
		return nil, err
	}
	status, err := s.sessions.Status(req.Msg.GuildID)
	if err != nil {
		return nil, connect.NewError(connect.CodeUnavailable, err)
	}
	resp := toGuildStatus(status)
	return connect.NewResponse(&resp), nil
}

// ListGuilds returns the status of every guild with a session.
func (s *ControlService) ListGuilds(
	ctx context.Context,
	req *connect.Request[ListGuildsRequest],
) (*connect.Response[ListGuildsResponse], error) {
	statuses := s.sessions.Statuses()
	guilds := make([]GuildStatus, 0, len(statuses))
	for _, st := range statuses {
		guilds = append(guilds, toGuildStatus(st))
	}
	return connect.NewResponse(&ListGuildsResponse{Guilds: guilds}), nil
}

// SubscribeNotifications streams playback notifications, starting with the
// current state of the requested guilds.
func (s *ControlService) SubscribeNotifications(
	ctx context.Context,
	req *connect.Request[SubscribeRequest],
	stream *connect.ServerStream[notification.Notification],
) error {
	notifManager := s.sessions.GetNotificationManager()

	var statuses []playback.Status
	if req.Msg.GuildID != "" {
		status, err := s.sessions.Status(req.Msg.GuildID)
		if err != nil {
			return connect.NewError(connect.CodeUnavailable, err)
		}
		statuses = []playback.Status{status}
	} else {
		statuses = s.sessions.Statuses()
	}

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(adapter, req.Msg.GuildID)
	defer func() {
		notifManager.Unsubscribe(subscriptionID)
		adapter.close()
		zlog.Info().Msgf("api: notification stream closed: subscription=%s subscribers=%d", subscriptionID, notifManager.SubscriberCount())
	}()
	zlog.Info().Msgf("api: notification stream opened: subscription=%s guild=%q subscribers=%d",
		subscriptionID, req.Msg.GuildID, notifManager.SubscriberCount())

	for _, st := range statuses {
		if err := notifManager.Send(subscriptionID, initialState(notifManager.NextSequenceNo(), st)); err != nil {
			return err
		}
	}

	select {
	case <-ctx.Done():
	case <-s.sessions.Done():
	}
	return nil
}

func initialState(sequenceNo uint64, st playback.Status) *notification.Notification {
	return &notification.Notification{
		SequenceNo: sequenceNo,
		Type:       notification.TypeInitialState,
		GuildID:    st.GuildID,
		State:      st.State.String(),
		Track:      session.BuildTrackInfo(st.Current),
		ElapsedSec: st.Elapsed,
		Line:       st.Line,
		Timestamp:  time.Now(),
	}
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized and refused once the handler has returned.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
	closed bool
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("stream closed")
	}
	return a.stream.Send(n)
}

func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
