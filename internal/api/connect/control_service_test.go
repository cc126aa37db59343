package connect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szmak/djszmak-bot/internal/app/notification"
	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/app/session"
	"github.com/szmak/djszmak-bot/internal/domain/track"
	"github.com/szmak/djszmak-bot/internal/infra/config"
)

const testToken = "secret"

type fakeSessions struct {
	playReq  session.PlayRequest
	playResp *session.PlayResponse
	playErr  error
	err      error
	next     *track.QueuedTrack
	removed  int
	queue    []track.QueuedTrack
	statuses map[string]playback.Status
	notifier *notification.Manager
	done     chan struct{}
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		statuses: make(map[string]playback.Status),
		notifier: notification.NewManager(),
		done:     make(chan struct{}),
	}
}

func (f *fakeSessions) Play(_ context.Context, req session.PlayRequest) (*session.PlayResponse, error) {
	f.playReq = req
	return f.playResp, f.playErr
}

func (f *fakeSessions) Pause(string) error                      { return f.err }
func (f *fakeSessions) Resume(string) error                     { return f.err }
func (f *fakeSessions) Leave(string) error                      { return f.err }
func (f *fakeSessions) SetVolume(string, int) error             { return f.err }
func (f *fakeSessions) Skip(string) (*track.QueuedTrack, error) { return f.next, f.err }
func (f *fakeSessions) Stop(string) (int, error)                { return f.removed, f.err }

func (f *fakeSessions) Queue(string) ([]track.QueuedTrack, error) { return f.queue, f.err }

func (f *fakeSessions) Status(guildID string) (playback.Status, error) {
	if st, ok := f.statuses[guildID]; ok {
		return st, nil
	}
	return playback.Status{GuildID: guildID, State: playback.StateIdle}, nil
}

func (f *fakeSessions) Statuses() []playback.Status {
	out := make([]playback.Status, 0, len(f.statuses))
	for _, st := range f.statuses {
		out = append(out, st)
	}
	return out
}

func (f *fakeSessions) Message(code string, args ...any) string {
	if len(args) == 0 {
		return code
	}
	return fmt.Sprintf("%s:%v", code, args)
}

func (f *fakeSessions) GetNotificationManager() *notification.Manager { return f.notifier }
func (f *fakeSessions) Done() <-chan struct{}                         { return f.done }

func newTestServer(t *testing.T, sessions *fakeSessions) *ControlClient {
	t.Helper()
	cfg := &config.Config{Admin: config.AdminConfig{Token: testToken}}
	path, handler := NewControlServiceHandler(
		NewControlService(sessions),
		connect.WithInterceptors(NewAdminAuthInterceptor(cfg)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewControlClient(server.Client(), server.URL, testToken)
}

func queued(title string, duration time.Duration) track.QueuedTrack {
	return track.QueuedTrack{
		Track:     track.New("https://youtu.be/"+title, title, duration),
		Requester: track.Requester{ID: "u1", Name: "szmak"},
	}
}

func TestControlService_RejectsBadToken(t *testing.T) {
	sessions := newFakeSessions()
	client := newTestServer(t, sessions)
	client.token = "wrong"

	_, err := client.Pause(context.Background(), "g1")
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	err = client.SubscribeNotifications(context.Background(), "", func(*notification.Notification) bool { return false })
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestControlService_Play(t *testing.T) {
	a := queued("A", time.Minute)

	tests := []struct {
		name        string
		req         *PlayRequest
		resp        *session.PlayResponse
		err         error
		wantCode    connect.Code
		wantSuccess bool
		wantResult  string
		wantMessage string
	}{
		{
			name:        "queued",
			req:         &PlayRequest{GuildID: "g1", URL: "https://youtu.be/A"},
			resp:        &session.PlayResponse{Code: "added_to_queue", Tracks: []track.Track{a.Track}, Position: 2},
			wantSuccess: true,
			wantResult:  "added_to_queue",
			wantMessage: "added_to_queue:[A]",
		},
		{
			name:        "started",
			req:         &PlayRequest{GuildID: "g1", ChannelID: "v1", URL: "https://youtu.be/A"},
			resp:        &session.PlayResponse{Code: "now_playing", Tracks: []track.Track{a.Track}, Current: &a},
			wantSuccess: true,
			wantResult:  "now_playing",
			wantMessage: "now_playing:[A]",
		},
		{
			name:        "rejected",
			req:         &PlayRequest{GuildID: "g1", URL: "https://youtu.be/A"},
			err:         &session.RejectionError{Code: "duration_limit_exceeded"},
			wantResult:  "duration_limit_exceeded",
			wantMessage: "duration_limit_exceeded",
		},
		{
			name:     "missing guild",
			req:      &PlayRequest{URL: "https://youtu.be/A"},
			wantCode: connect.CodeInvalidArgument,
		},
		{
			name:     "missing url",
			req:      &PlayRequest{GuildID: "g1"},
			wantCode: connect.CodeInvalidArgument,
		},
		{
			name:     "closed",
			req:      &PlayRequest{GuildID: "g1", URL: "https://youtu.be/A"},
			err:      session.ErrClosed,
			wantCode: connect.CodeUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := newFakeSessions()
			sessions.playResp = tt.resp
			sessions.playErr = tt.err
			client := newTestServer(t, sessions)

			res, err := client.Play(context.Background(), tt.req)
			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, connect.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSuccess, res.Success)
			assert.Equal(t, tt.wantResult, res.Code)
			assert.Equal(t, tt.wantMessage, res.Message)
			assert.Equal(t, defaultRequesterName, sessions.playReq.Requester.Name)
			assert.Equal(t, tt.req.ChannelID, sessions.playReq.ChannelID)
			if tt.wantSuccess {
				require.Len(t, res.Tracks, 1)
				assert.Equal(t, "A", res.Tracks[0].Title)
				assert.Equal(t, 60, res.Tracks[0].DurationSec)
			}
		})
	}
}

func TestControlService_Commands(t *testing.T) {
	ctx := context.Background()
	next := queued("B", time.Minute)

	t.Run("skip to next", func(t *testing.T) {
		sessions := newFakeSessions()
		sessions.next = &next
		res, err := newTestServer(t, sessions).Skip(ctx, "g1")
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "skipped", res.Code)
		require.NotNil(t, res.Next)
		assert.Equal(t, "B", res.Next.Title)
	})

	t.Run("skip last", func(t *testing.T) {
		res, err := newTestServer(t, newFakeSessions()).Skip(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "skipped_queue_empty", res.Code)
		assert.Nil(t, res.Next)
	})

	t.Run("pause with nothing playing", func(t *testing.T) {
		sessions := newFakeSessions()
		sessions.err = playback.ErrNothingPlaying
		res, err := newTestServer(t, sessions).Pause(ctx, "g1")
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, "nothing_playing", res.Code)
	})

	t.Run("stop reports removed tracks", func(t *testing.T) {
		sessions := newFakeSessions()
		sessions.removed = 3
		res, err := newTestServer(t, sessions).Stop(ctx, "g1")
		require.NoError(t, err)
		assert.Equal(t, "stopped", res.Code)
		assert.Equal(t, 3, res.Removed)
	})

	t.Run("volume", func(t *testing.T) {
		res, err := newTestServer(t, newFakeSessions()).SetVolume(ctx, "g1", 40)
		require.NoError(t, err)
		assert.Equal(t, "volume_set:[40]", res.Message)
	})

	t.Run("leave on closed manager", func(t *testing.T) {
		sessions := newFakeSessions()
		sessions.err = session.ErrClosed
		_, err := newTestServer(t, sessions).Leave(ctx, "g1")
		require.Error(t, err)
		assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
	})

	t.Run("resume without guild", func(t *testing.T) {
		_, err := newTestServer(t, newFakeSessions()).Resume(ctx, "")
		require.Error(t, err)
		assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
	})
}

func TestControlService_QueueAndStatus(t *testing.T) {
	ctx := context.Background()
	current := queued("A", time.Minute)

	sessions := newFakeSessions()
	sessions.queue = []track.QueuedTrack{
		queued("B", 90*time.Second),
		{Track: track.Track{SourceURL: "https://youtu.be/C", Title: "C"}},
	}
	sessions.statuses["g1"] = playback.Status{
		GuildID:       "g1",
		State:         playback.StatePlaying,
		Current:       &current,
		Elapsed:       15,
		Line:          "[#####---------------] 00:15 / 01:00",
		QueueLength:   2,
		QueueDuration: 90 * time.Second,
		Connected:     true,
		ChannelID:     "v1",
		Volume:        80,
	}
	client := newTestServer(t, sessions)

	q, err := client.GetQueue(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, q.Tracks, 2)
	assert.Equal(t, "--:--", q.Tracks[1].Duration)
	assert.Equal(t, 90, q.TotalSec)

	st, err := client.GetStatus(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, GuildStatus{
		GuildID:          "g1",
		State:            "playing",
		Current:          session.BuildTrackInfo(&current),
		ElapsedSec:       15,
		Line:             "[#####---------------] 00:15 / 01:00",
		QueueLength:      2,
		QueueDurationSec: 90,
		Connected:        true,
		ChannelID:        "v1",
		Volume:           80,
	}, *st)

	guilds, err := client.ListGuilds(ctx)
	require.NoError(t, err)
	require.Len(t, guilds.Guilds, 1)
	assert.Equal(t, "g1", guilds.Guilds[0].GuildID)
}

func TestControlService_SubscribeNotifications(t *testing.T) {
	current := queued("A", time.Minute)
	sessions := newFakeSessions()
	sessions.statuses["g1"] = playback.Status{GuildID: "g1", State: playback.StatePlaying, Current: &current, Elapsed: 3}
	client := newTestServer(t, sessions)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan *notification.Notification, 4)
	errCh := make(chan error, 1)
	go func() {
		count := 0
		errCh <- client.SubscribeNotifications(ctx, "g1", func(n *notification.Notification) bool {
			received <- n
			count++
			return count < 2
		})
	}()

	initial := <-received
	assert.Equal(t, notification.TypeInitialState, initial.Type)
	assert.Equal(t, "playing", initial.State)
	assert.Equal(t, 3, initial.ElapsedSec)
	require.NotNil(t, initial.Track)
	assert.Equal(t, "A", initial.Track.Title)

	require.Eventually(t, func() bool { return sessions.notifier.SubscriberCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sessions.notifier.Broadcast(&notification.Notification{Type: notification.TypeQueueEmpty, GuildID: "other"}))
	require.NoError(t, sessions.notifier.Broadcast(&notification.Notification{Type: notification.TypeQueueEmpty, GuildID: "g1"}))

	got := <-received
	assert.Equal(t, notification.TypeQueueEmpty, got.Type)
	assert.Equal(t, "g1", got.GuildID)
	assert.Greater(t, got.SequenceNo, initial.SequenceNo)
	require.NoError(t, <-errCh)
}
