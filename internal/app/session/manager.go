// Package session provides the session manager.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/app/filter"
	"github.com/szmak/djszmak-bot/internal/app/notification"
	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/app/resolver"
	"github.com/szmak/djszmak-bot/internal/app/session/registry"
	"github.com/szmak/djszmak-bot/internal/domain/failure"
	"github.com/szmak/djszmak-bot/internal/domain/track"
	"github.com/szmak/djszmak-bot/internal/infra/config"
)

var ErrClosed = errors.New("session manager is closed")

// Resolver turns user input into playable tracks.
type Resolver interface {
	Resolve(ctx context.Context, input string) ([]track.Track, error)
}

// RejectionError reports a play request refused by the filter chain.
type RejectionError struct {
	Code string
}

func (e *RejectionError) Error() string {
	return "request rejected: " + e.Code
}

// PlayRequest is a play command from a control surface.
type PlayRequest struct {
	GuildID   string
	ChannelID string // Requester's voice channel; empty if unknown
	Input     string
	Requester track.Requester
}

// PlayResponse describes an accepted play request.
type PlayResponse struct {
	Code     string             // "now_playing", "added_to_queue" or "added_playlist"
	Tracks   []track.Track      // Tracks added by the request
	Outcome  playback.PlayOutcome
	Position int                // Queue position of the first added track
	Current  *track.QueuedTrack // Track playing after the request
}

// Manager routes commands to per-guild playback controllers and broadcasts
// their events.
type Manager struct {
	// Configuration
	config *config.Config

	// Components
	resolver     Resolver
	filterChain  *filter.Chain
	notification *notification.Manager
	guilds       *registry.GuildRegistry

	// Event consumers
	wg sync.WaitGroup

	// Channels
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

// NewManager creates a new session manager.
func NewManager(
	cfg *config.Config,
	res Resolver,
	source playback.AudioSource,
	connector playback.Connector,
) (*Manager, error) {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config:       cfg,
		resolver:     res,
		filterChain:  filter.NewChain(),
		notification: notification.NewManager(),
		ctx:          ctx,
		cancel:       cancel,
		now:          time.Now,
	}

	ctrlConfig := playback.Config{
		TickInterval:   cfg.TickInterval(),
		BarWidth:       cfg.Playback.BarWidth,
		EventBuffer:    cfg.Playback.EventBuffer,
		ConnectTimeout: cfg.ConnectTimeout(),
		Volume:         cfg.Playback.Volume,
	}
	m.guilds = registry.NewGuildRegistry(func(guildID string) *playback.Controller {
		ctrl := playback.NewController(guildID, ctrlConfig, source, connector)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.playbackLoop(ctrl)
		}()
		return ctrl
	})

	if err := m.setupFilters(); err != nil {
		cancel()
		return nil, err
	}

	return m, nil
}

// setupFilters initializes the filter chain from the enabled filters, in name order.
func (m *Manager) setupFilters() error {
	registered := filter.GetRegistered()
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !m.config.IsFilterEnabled(name) {
			continue
		}
		f := registered[name]()
		if err := f.ValidateConfig(m.config.GetFilterSettings(name)); err != nil {
			return errors.Wrapf(err, "invalid settings for filter %s", name)
		}
		if qa, ok := f.(filter.QueueAware); ok {
			qa.SetQueueLister(m.pendingTracks)
		}
		m.filterChain.Add(f)
		zlog.Info().Msgf("filter enabled: name=%s", name)
	}
	return nil
}

// Play resolves the input, runs the filter chain, and hands the tracks to the
// guild's controller.
func (m *Manager) Play(ctx context.Context, req PlayRequest) (*PlayResponse, error) {
	if m.ctx.Err() != nil {
		return nil, ErrClosed
	}

	tracks, err := m.resolver.Resolve(ctx, req.Input)
	if err != nil {
		zlog.Warn().Msgf("play request rejected: guild=%s input=%s code=resolution_failed err=%v", req.GuildID, req.Input, err)
		return nil, err
	}

	origin := filter.OriginSingle
	if resolver.Classify(req.Input) == resolver.KindPlaylist {
		origin = filter.OriginPlaylist
	}
	result := m.filterChain.Execute(ctx, filter.TrackRequest{
		GuildID:   req.GuildID,
		Input:     req.Input,
		Requester: req.Requester,
		Origin:    origin,
	}, tracks)
	if !result.Accepted {
		zlog.Info().Msgf("play request rejected: guild=%s input=%s code=%s", req.GuildID, req.Input, result.Code)
		return nil, &RejectionError{Code: result.Code}
	}

	ctrl, _, err := m.guilds.GetOrCreate(req.GuildID)
	if err != nil {
		return nil, ErrClosed
	}

	addedAt := m.now()
	queued := make([]track.QueuedTrack, 0, len(tracks))
	for _, t := range tracks {
		queued = append(queued, track.QueuedTrack{Track: t, Requester: req.Requester, AddedAt: addedAt})
	}

	playReq := playback.PlayRequest{ChannelID: req.ChannelID, Tracks: queued}
	res, err := ctrl.Play(ctx, playReq)
	if errors.Is(err, playback.ErrClosed) && m.ctx.Err() == nil {
		// The guild was left while this request was in flight.
		if ctrl, _, err = m.guilds.GetOrCreate(req.GuildID); err != nil {
			return nil, ErrClosed
		}
		res, err = ctrl.Play(ctx, playReq)
	}
	if err != nil {
		zlog.Warn().Msgf("play request failed: guild=%s input=%s kind=%s err=%v", req.GuildID, req.Input, failure.Kind(err), err)
		return nil, err
	}

	resp := &PlayResponse{
		Tracks:   tracks,
		Outcome:  res.Outcome,
		Position: res.Position,
		Current:  res.Current,
	}
	switch {
	case origin == filter.OriginPlaylist:
		resp.Code = "added_playlist"
	case res.Outcome == playback.PlayStarted:
		resp.Code = "now_playing"
	default:
		resp.Code = "added_to_queue"
	}
	zlog.Info().Msgf("play request: guild=%s requester=%s tracks=%d code=%s", req.GuildID, req.Requester.Name, len(tracks), resp.Code)
	return resp, nil
}

// controller returns the guild's controller if one exists.
func (m *Manager) controller(guildID string) (*playback.Controller, bool) {
	ctrl, err := m.guilds.Get(guildID)
	if err != nil {
		return nil, false
	}
	return ctrl, true
}

// Pause pauses the guild's current track.
func (m *Manager) Pause(guildID string) error {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return failure.MarkState(playback.ErrNothingPlaying)
	}
	return ctrl.Pause()
}

// Resume resumes the guild's paused track.
func (m *Manager) Resume(guildID string) error {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return failure.MarkState(playback.ErrNotPaused)
	}
	return ctrl.Resume()
}

// Skip skips the guild's current track and returns the next one, or nil if the
// queue was empty.
func (m *Manager) Skip(guildID string) (*track.QueuedTrack, error) {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return nil, failure.MarkState(playback.ErrNothingPlaying)
	}
	return ctrl.Skip()
}

// Stop stops playback and clears the guild's queue, keeping the voice connection.
func (m *Manager) Stop(guildID string) (int, error) {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return 0, nil
	}
	return ctrl.Stop()
}

// Leave disconnects the guild's voice connection and clears its queue.
func (m *Manager) Leave(guildID string) error {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return failure.MarkState(playback.ErrNotConnected)
	}
	err := ctrl.Leave()

	// A left guild starts over with a fresh controller on its next play.
	if rmErr := m.guilds.Remove(guildID); rmErr == nil {
		zlog.Debug().Msgf("session released: guild=%s", guildID)
	}
	return err
}

// SetVolume sets the guild's playback volume in percent.
func (m *Manager) SetVolume(guildID string, percent int) error {
	ctrl, _, err := m.guilds.GetOrCreate(guildID)
	if err != nil {
		return ErrClosed
	}
	return ctrl.SetVolume(percent)
}

// Queue returns the guild's queued tracks.
func (m *Manager) Queue(guildID string) ([]track.QueuedTrack, error) {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return nil, nil
	}
	return ctrl.Queue()
}

// pendingTracks returns the guild's current track followed by its queue.
func (m *Manager) pendingTracks(guildID string) []track.QueuedTrack {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return nil
	}
	status, err := ctrl.Status()
	if err != nil {
		return nil
	}
	queued, err := ctrl.Queue()
	if err != nil {
		return nil
	}

	tracks := make([]track.QueuedTrack, 0, len(queued)+1)
	if status.Current != nil {
		tracks = append(tracks, *status.Current)
	}
	return append(tracks, queued...)
}

// Status returns the guild's playback status.
func (m *Manager) Status(guildID string) (playback.Status, error) {
	ctrl, ok := m.controller(guildID)
	if !ok {
		return playback.Status{GuildID: guildID, State: playback.StateIdle, Volume: m.config.Playback.Volume}, nil
	}
	return ctrl.Status()
}

// Statuses returns the status of every guild with a controller.
func (m *Manager) Statuses() []playback.Status {
	ids := m.guilds.GuildIDs()
	statuses := make([]playback.Status, 0, len(ids))
	for _, id := range ids {
		s, err := m.Status(id)
		if err != nil {
			continue
		}
		statuses = append(statuses, s)
	}
	return statuses
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Message returns the configured message for code, formatted with args.
func (m *Manager) Message(code string, args ...any) string {
	msg := m.config.GetMessage(code)
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Done is closed when the manager is closed.
func (m *Manager) Done() <-chan struct{} {
	return m.ctx.Done()
}

// Close leaves every voice channel and stops all controllers.
func (m *Manager) Close() {
	m.cancel()
	m.guilds.CloseAll()
	m.wg.Wait()
	m.notification.Close()
}

// playbackLoop turns one controller's events into notifications until its
// event channel is closed.
func (m *Manager) playbackLoop(ctrl *playback.Controller) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback loop panicked: guild=%s err=%v", ctrl.GuildID(), r)
			// Restart loop so the controller's events keep draining
			zlog.Info().Msgf("restarting playback loop: guild=%s", ctrl.GuildID())
			m.wg.Add(1)
			go func() {
				defer m.wg.Done()
				m.playbackLoop(ctrl)
			}()
		}
	}()

	for event := range ctrl.Events() {
		m.handlePlaybackEvent(event)
	}
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	if event.Type != playback.EventProgress {
		zlog.Info().Msgf("playback event: guild=%s type=%s state=%s", event.GuildID, event.Type, event.State)
	}

	n := buildNotification(event)
	if n == nil {
		return
	}
	if err := m.notification.Broadcast(n); err != nil {
		zlog.Error().Msgf("failed to broadcast %s: %v", n.Type, err)
	}
}

// buildNotification converts a playback event into a notification.
func buildNotification(event playback.Event) *notification.Notification {
	n := &notification.Notification{
		GuildID:    event.GuildID,
		State:      event.State.String(),
		Track:      BuildTrackInfo(event.Track),
		ElapsedSec: event.Elapsed,
		Line:       event.Line,
	}

	switch event.Type {
	case playback.EventTrackStarted:
		n.Type = notification.TypeNowPlaying
	case playback.EventProgress:
		n.Type = notification.TypeProgress
	case playback.EventTrackEnded:
		n.Type = notification.TypeTrackEnded
	case playback.EventTrackSkipped:
		n.Type = notification.TypeTrackSkipped
	case playback.EventTrackFailed:
		n.Type = notification.TypeTrackFailed
		if event.Err != nil {
			n.Error = failure.Kind(event.Err)
		}
	case playback.EventQueueEmpty:
		n.Type = notification.TypeQueueEmpty
	case playback.EventStateChanged:
		n.Type = notification.TypeStateChanged
	case playback.EventDisconnected:
		n.Type = notification.TypeDisconnected
	default:
		return nil
	}
	return n
}

// BuildTrackInfo creates a TrackInfo from a QueuedTrack.
func BuildTrackInfo(qt *track.QueuedTrack) *notification.TrackInfo {
	if qt == nil {
		return nil
	}

	return &notification.TrackInfo{
		Title:         qt.Track.Title,
		SourceURL:     qt.Track.SourceURL,
		Duration:      qt.Track.FormatDuration(),
		DurationSec:   qt.Track.DurationSeconds(),
		RequesterID:   qt.Requester.ID,
		RequesterName: qt.Requester.Name,
	}
}

// Code maps an error returned by the manager to a message code.
func Code(err error) string {
	var rejection *RejectionError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rejection):
		return rejection.Code
	case errors.Is(err, playback.ErrNoVoiceChannel):
		return "no_voice_channel"
	case errors.Is(err, playback.ErrNothingPlaying):
		return "nothing_playing"
	case errors.Is(err, playback.ErrAlreadyPaused):
		return "already_paused"
	case errors.Is(err, playback.ErrNotPaused):
		return "not_paused"
	case errors.Is(err, playback.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, playback.ErrInvalidVolume):
		return "invalid_volume"
	case errors.Is(err, failure.ErrConnection):
		return "connection_failed"
	case errors.Is(err, failure.ErrResolution):
		return "resolution_failed"
	case errors.Is(err, failure.ErrStream):
		return "playback_failed"
	default:
		return "default_error"
	}
}
