package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/szmak/djszmak-bot/internal/app/notification"
	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/domain/failure"
	"github.com/szmak/djszmak-bot/internal/domain/track"
	"github.com/szmak/djszmak-bot/internal/infra/config"
)

type stubResolver struct {
	tracks map[string][]track.Track
}

func (r *stubResolver) Resolve(_ context.Context, input string) ([]track.Track, error) {
	tracks, ok := r.tracks[input]
	if !ok {
		return nil, failure.Resolutionf("unsupported input: %s", input)
	}
	return tracks, nil
}

type stubStream struct{ io.Reader }

func (stubStream) Close() error { return nil }
func (stubStream) Wait() error { return nil }

type stubSource struct{}

func (stubSource) Open(context.Context, string) (playback.Stream, error) {
	return stubStream{Reader: strings.NewReader("pcm")}, nil
}

type stubPlayer struct {
	done chan error
	once sync.Once
}

func (p *stubPlayer) Pause() {}
func (p *stubPlayer) Resume() {}
func (p *stubPlayer) SetVolume(int) {}
func (p *stubPlayer) State() playback.PlayerState { return playback.PlayerPlaying }
func (p *stubPlayer) Done() <-chan error { return p.done }
func (p *stubPlayer) Stop() { p.once.Do(func() { p.done <- nil }) }

type stubConnection struct{}

func (stubConnection) Play(playback.Stream) playback.Player {
	return &stubPlayer{done: make(chan error, 1)}
}
func (stubConnection) Disconnect() error { return nil }

type stubConnector struct{}

func (stubConnector) Connect(context.Context, string, string) (playback.Connection, error) {
	return stubConnection{}, nil
}

type collectingStream struct {
	mu    sync.Mutex
	types []notification.Type
}

func (s *collectingStream) Send(n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types = append(s.types, n.Type)
	return nil
}

func (s *collectingStream) has(t notification.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.types {
		if got == t {
			return true
		}
	}
	return false
}

var (
	songA    = track.New("https://youtu.be/a", "A", 3*time.Minute)
	songB    = track.New("https://youtu.be/b", "B", 4*time.Minute)
	longMix  = track.New("https://youtu.be/mix", "Mix", 2*time.Hour)
	listURL  = "https://www.youtube.com/playlist?list=PL123"
	listItem = track.Track{SourceURL: "https://youtu.be/p1", Title: "P1"}
)

func newTestManager(t *testing.T, filters map[string]config.FilterConfig) *Manager {
	t.Helper()
	cfg := &config.Config{
		Playback: config.PlaybackConfig{BarWidth: 20, EventBuffer: 64, Volume: 100},
		Filters:  filters,
		Messages: config.MessagesConfig{
			AddedToQueue:   "Added %s",
			NothingPlaying: "Nothing is playing.",
			DefaultError:   "error",
		},
	}
	res := &stubResolver{tracks: map[string][]track.Track{
		"https://youtu.be/a":   {songA},
		"https://youtu.be/b":   {songB},
		"https://youtu.be/mix": {longMix},
		listURL:                {listItem, listItem, listItem},
	}}

	m, err := NewManager(cfg, res, stubSource{}, stubConnector{})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func play(t *testing.T, m *Manager, input string) (*PlayResponse, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return m.Play(ctx, PlayRequest{
		GuildID:   "g1",
		ChannelID: "vc1",
		Input:     input,
		Requester: track.Requester{ID: "u1", Name: "szmak"},
	})
}

func TestManager_PlayStartsThenQueues(t *testing.T) {
	m := newTestManager(t, nil)
	stream := &collectingStream{}
	m.GetNotificationManager().Subscribe(stream, "g1")

	resp, err := play(t, m, "https://youtu.be/a")
	require.NoError(t, err)
	assert.Equal(t, "now_playing", resp.Code)
	require.NotNil(t, resp.Current)
	assert.Equal(t, "szmak", resp.Current.Requester.Name)

	resp, err = play(t, m, "https://youtu.be/b")
	require.NoError(t, err)
	assert.Equal(t, "added_to_queue", resp.Code)
	assert.Equal(t, 1, resp.Position)

	queue, err := m.Queue("g1")
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "B", queue[0].Track.Title)

	status, err := m.Status("g1")
	require.NoError(t, err)
	assert.Equal(t, playback.StatePlaying, status.State)
	assert.True(t, status.Connected)

	assert.Eventually(t, func() bool { return stream.has(notification.TypeNowPlaying) },
		2*time.Second, 5*time.Millisecond)
}

func TestManager_PlayPlaylist(t *testing.T) {
	m := newTestManager(t, nil)

	resp, err := play(t, m, listURL)
	require.NoError(t, err)
	assert.Equal(t, "added_playlist", resp.Code)
	assert.Len(t, resp.Tracks, 3)

	queue, err := m.Queue("g1")
	require.NoError(t, err)
	assert.Len(t, queue, 2)
}

func TestManager_PlayResolutionFailure(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := play(t, m, "not a url")
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrResolution))
	assert.Equal(t, "resolution_failed", Code(err))
	assert.Empty(t, m.Statuses(), "a failed resolution must not create a session")
}

func TestManager_PlayRejectedByFilter(t *testing.T) {
	m := newTestManager(t, map[string]config.FilterConfig{
		"duration_limit_filter": {Enabled: true, Settings: map[string]any{"max_minutes": 10}},
		"playlist_limit_filter": {Enabled: true, Settings: map[string]any{"max_items": 2}},
	})

	_, err := play(t, m, "https://youtu.be/mix")
	require.Error(t, err)
	assert.Equal(t, "duration_limit_exceeded", Code(err))

	_, err = play(t, m, listURL)
	require.Error(t, err)
	assert.Equal(t, "playlist_too_large", Code(err))

	_, err = play(t, m, "https://youtu.be/a")
	require.NoError(t, err)
}

func TestManager_PlayRejectsDuplicates(t *testing.T) {
	m := newTestManager(t, map[string]config.FilterConfig{
		"duplicate_track_filter": {Enabled: true},
	})

	_, err := play(t, m, "https://youtu.be/a")
	require.NoError(t, err)

	_, err = play(t, m, "https://youtu.be/a")
	assert.Equal(t, "duplicate_track", Code(err), "the current track counts as queued")

	_, err = play(t, m, "https://youtu.be/b")
	require.NoError(t, err)

	_, err = play(t, m, "https://youtu.be/b")
	assert.Equal(t, "duplicate_track", Code(err))

	_, err = play(t, m, listURL)
	assert.NoError(t, err, "playlists are not checked for duplicates")
}

func TestManager_InvalidFilterSettings(t *testing.T) {
	cfg := &config.Config{Filters: map[string]config.FilterConfig{
		"duration_limit_filter": {Enabled: true, Settings: map[string]any{"min_minutes": 30, "max_minutes": 10}},
	}}

	_, err := NewManager(cfg, &stubResolver{}, stubSource{}, stubConnector{})
	assert.Error(t, err)
}

func TestManager_CommandsWithoutSession(t *testing.T) {
	m := newTestManager(t, nil)

	assert.Equal(t, "nothing_playing", Code(m.Pause("g9")))
	assert.Equal(t, "not_paused", Code(m.Resume("g9")))
	_, err := m.Skip("g9")
	assert.Equal(t, "nothing_playing", Code(err))
	assert.Equal(t, "not_connected", Code(m.Leave("g9")))

	removed, err := m.Stop("g9")
	require.NoError(t, err)
	assert.Zero(t, removed)

	queue, err := m.Queue("g9")
	require.NoError(t, err)
	assert.Empty(t, queue)

	status, err := m.Status("g9")
	require.NoError(t, err)
	assert.Equal(t, playback.StateIdle, status.State)
	assert.Equal(t, 100, status.Volume)
}

func TestManager_ControlFlow(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := play(t, m, "https://youtu.be/a")
	require.NoError(t, err)
	_, err = play(t, m, "https://youtu.be/b")
	require.NoError(t, err)

	require.NoError(t, m.Pause("g1"))
	assert.Equal(t, "already_paused", Code(m.Pause("g1")))
	require.NoError(t, m.Resume("g1"))
	require.NoError(t, m.SetVolume("g1", 50))
	assert.Equal(t, "invalid_volume", Code(m.SetVolume("g1", 150)))

	next, err := m.Skip("g1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "B", next.Track.Title)

	next, err = m.Skip("g1")
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = m.Stop("g1")
	require.NoError(t, err)
	status, err := m.Status("g1")
	require.NoError(t, err)
	assert.Equal(t, playback.StateIdle, status.State)
	assert.True(t, status.Connected, "stop keeps the voice connection")

	require.NoError(t, m.Leave("g1"))
	assert.Equal(t, "not_connected", Code(m.Leave("g1")))
}

func TestManager_RepeatedCommandsReportDistinctOutcomes(t *testing.T) {
	m := newTestManager(t, nil)
	m.config.Messages.Paused = "Paused."
	m.config.Messages.AlreadyPaused = "Already paused."
	m.config.Messages.Resumed = "Resumed."
	m.config.Messages.NotPaused = "Not paused."
	m.config.Messages.Left = "Left."
	m.config.Messages.NotConnected = "Not connected."

	_, err := play(t, m, "https://youtu.be/a")
	require.NoError(t, err)

	steps := []struct {
		name    string
		run     func() error
		okCode  string
		want    string
		message string
	}{
		{name: "pause", run: func() error { return m.Pause("g1") }, okCode: "paused", want: "paused", message: "Paused."},
		{name: "pause again", run: func() error { return m.Pause("g1") }, okCode: "paused", want: "already_paused", message: "Already paused."},
		{name: "resume", run: func() error { return m.Resume("g1") }, okCode: "resumed", want: "resumed", message: "Resumed."},
		{name: "resume again", run: func() error { return m.Resume("g1") }, okCode: "resumed", want: "not_paused", message: "Not paused."},
		{name: "leave", run: func() error { return m.Leave("g1") }, okCode: "left", want: "left", message: "Left."},
		{name: "leave again", run: func() error { return m.Leave("g1") }, okCode: "left", want: "not_connected", message: "Not connected."},
	}

	seen := make(map[string]bool)
	for _, step := range steps {
		code := Code(step.run())
		if code == "" {
			code = step.okCode
		}
		assert.Equal(t, step.want, code, step.name)
		assert.Equal(t, step.message, m.Message(code), step.name)
		seen[code] = true
	}
	assert.Len(t, seen, len(steps))

	status, err := m.Status("g1")
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Zero(t, status.QueueLength)
	assert.NotContains(t, m.guilds.GuildIDs(), "g1", "leave releases the guild's controller")

	resp, err := play(t, m, "https://youtu.be/b")
	require.NoError(t, err)
	assert.Equal(t, "now_playing", resp.Code, "a left guild starts over on the next play")
}

func TestManager_Message(t *testing.T) {
	m := newTestManager(t, nil)

	assert.Equal(t, "Added Song", m.Message("added_to_queue", "Song"))
	assert.Equal(t, "Nothing is playing.", m.Message("nothing_playing"))
	assert.Equal(t, "error", m.Message("unknown_code"))
}

func TestManager_CloseRejectsPlay(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := play(t, m, "https://youtu.be/a")
	require.NoError(t, err)

	m.Close()

	_, err = play(t, m, "https://youtu.be/b")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "rejection", err: &RejectionError{Code: "playlist_too_large"}, want: "playlist_too_large"},
		{name: "wrapped rejection", err: errors.Wrap(&RejectionError{Code: "x"}, "play"), want: "x"},
		{name: "no voice channel", err: playback.ErrNoVoiceChannel, want: "no_voice_channel"},
		{name: "join failure", err: failure.Connection(errors.New("timeout"), "join"), want: "connection_failed"},
		{name: "stream", err: failure.Stream(errors.New("exit 1"), "open"), want: "playback_failed"},
		{name: "not paused", err: playback.ErrNotPaused, want: "not_paused"},
		{name: "marked no voice channel", err: failure.MarkConnection(playback.ErrNoVoiceChannel), want: "no_voice_channel"},
		{name: "interrupted join", err: failure.MarkConnection(playback.ErrInterrupted), want: "connection_failed"},
		{name: "marked nothing playing", err: failure.MarkState(playback.ErrNothingPlaying), want: "nothing_playing"},
		{name: "marked already paused", err: failure.MarkState(playback.ErrAlreadyPaused), want: "already_paused"},
		{name: "marked not paused", err: failure.MarkState(playback.ErrNotPaused), want: "not_paused"},
		{name: "marked not connected", err: failure.MarkState(playback.ErrNotConnected), want: "not_connected"},
		{name: "unknown", err: errors.New("boom"), want: "default_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestBuildNotification(t *testing.T) {
	qt := &track.QueuedTrack{Track: songA, Requester: track.Requester{ID: "u1", Name: "szmak"}}

	n := buildNotification(playback.Event{
		Type:    playback.EventProgress,
		GuildID: "g1",
		Track:   qt,
		State:   playback.StatePlaying,
		Elapsed: 5,
		Line:    "[--------------------] 00:05 / 03:00",
	})
	require.NotNil(t, n)
	assert.Equal(t, notification.TypeProgress, n.Type)
	assert.Equal(t, "playing", n.State)
	assert.Equal(t, 5, n.ElapsedSec)
	assert.Equal(t, "03:00", n.Track.Duration)
	assert.Equal(t, "szmak", n.Track.RequesterName)

	n = buildNotification(playback.Event{Type: playback.EventTrackFailed, Track: qt, Err: failure.Stream(errors.New("x"), "y")})
	require.NotNil(t, n)
	assert.Equal(t, "stream", n.Error)

	assert.Nil(t, buildNotification(playback.Event{Type: playback.EventType(99)}))
}
