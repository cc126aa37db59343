package discord

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/app/notification"
)

// messenger is the part of the gateway session used to post and edit messages.
type messenger interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// MessageFunc formats a configured message.
type MessageFunc func(code string, args ...any) string

// maxPendingProgress bounds how many progress updates wait for Run.
const maxPendingProgress = 64

// ProgressUpdater keeps a live "Now playing" message per guild, edited on
// every progress and pause/resume notification.
type ProgressUpdater struct {
	api     messenger
	message MessageFunc

	mu       sync.Mutex
	channels map[string]string             // guild ID -> text channel of the last play command
	current  map[string]*discordgo.Message // guild ID -> now-playing message
	lines    map[string]string             // guild ID -> last rendered progress line

	pendingMu sync.Mutex
	pending   []*notification.Notification
	wake      chan struct{}
}

// NewProgressUpdater creates an updater. Notifications are processed by Run.
func NewProgressUpdater(api messenger, message MessageFunc) *ProgressUpdater {
	return &ProgressUpdater{
		api:      api,
		message:  message,
		channels: make(map[string]string),
		current:  make(map[string]*discordgo.Message),
		lines:    make(map[string]string),
		wake:     make(chan struct{}, 1),
	}
}

// Bind sets the text channel that receives the guild's playback messages.
func (u *ProgressUpdater) Bind(guildID, channelID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.channels[guildID] = channelID
}

// Send queues a notification without blocking. Progress notifications are
// dropped once maxPendingProgress of them are waiting; the others are always kept.
func (u *ProgressUpdater) Send(n *notification.Notification) error {
	u.pendingMu.Lock()
	if n.Type == notification.TypeProgress && u.countProgress() >= maxPendingProgress {
		u.pendingMu.Unlock()
		zlog.Debug().Msgf("discord: progress queue full, dropping update: guild=%s seq=%d", n.GuildID, n.SequenceNo)
		return nil
	}
	u.pending = append(u.pending, n)
	u.pendingMu.Unlock()

	select {
	case u.wake <- struct{}{}:
	default:
	}
	return nil
}

// countProgress counts pending progress notifications. pendingMu must be held.
func (u *ProgressUpdater) countProgress() int {
	count := 0
	for _, n := range u.pending {
		if n.Type == notification.TypeProgress {
			count++
		}
	}
	return count
}

// Run processes queued notifications in order until ctx is done.
func (u *ProgressUpdater) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-u.wake:
		}

		u.pendingMu.Lock()
		batch := u.pending
		u.pending = nil
		u.pendingMu.Unlock()

		for _, n := range batch {
			if ctx.Err() != nil {
				return
			}
			u.handle(n)
		}
	}
}

func (u *ProgressUpdater) handle(n *notification.Notification) {
	switch n.Type {
	case notification.TypeNowPlaying:
		u.post(n)
	case notification.TypeProgress:
		u.edit(n)
	case notification.TypeStateChanged:
		u.stateChanged(n)
	case notification.TypeTrackFailed:
		if n.Track != nil {
			u.say(n.GuildID, u.message("stream_failed", n.Track.Title))
		}
	case notification.TypeQueueEmpty, notification.TypeTrackEnded, notification.TypeTrackSkipped:
		u.forget(n.GuildID)
	case notification.TypeDisconnected:
		u.forget(n.GuildID)
		u.mu.Lock()
		delete(u.channels, n.GuildID)
		u.mu.Unlock()
	}
}

// stateChanged refreshes the now-playing message on pause and resume and
// drops it once the guild stops playing.
func (u *ProgressUpdater) stateChanged(n *notification.Notification) {
	switch n.State {
	case "paused", "playing":
		u.edit(n)
	default:
		u.forget(n.GuildID)
	}
}

// nowPlaying renders the now-playing message body. Notifications without a
// progress line reuse the guild's last one.
func (u *ProgressUpdater) nowPlaying(n *notification.Notification) string {
	u.mu.Lock()
	line := n.Line
	if line != "" {
		u.lines[n.GuildID] = line
	} else {
		line = u.lines[n.GuildID]
	}
	u.mu.Unlock()

	content := u.message("now_playing", n.Track.Title)
	if line != "" {
		content += "\n" + line
	}
	if n.State == "paused" {
		content += "\n" + u.message("paused")
	}
	return content
}

func (u *ProgressUpdater) post(n *notification.Notification) {
	if n.Track == nil {
		return
	}
	u.mu.Lock()
	channelID, ok := u.channels[n.GuildID]
	delete(u.lines, n.GuildID)
	u.mu.Unlock()
	if !ok {
		return
	}

	msg, err := u.api.ChannelMessageSend(channelID, u.nowPlaying(n))
	if err != nil {
		zlog.Warn().Msgf("discord: failed to send progress message: guild=%s err=%v", n.GuildID, err)
		return
	}

	u.mu.Lock()
	u.current[n.GuildID] = msg
	u.mu.Unlock()
}

func (u *ProgressUpdater) edit(n *notification.Notification) {
	if n.Track == nil {
		return
	}
	u.mu.Lock()
	msg, ok := u.current[n.GuildID]
	u.mu.Unlock()
	if !ok {
		return
	}

	if _, err := u.api.ChannelMessageEdit(msg.ChannelID, msg.ID, u.nowPlaying(n)); err != nil {
		zlog.Warn().Msgf("discord: failed to update progress message: guild=%s err=%v", n.GuildID, err)
	}
}

func (u *ProgressUpdater) say(guildID, content string) {
	u.mu.Lock()
	channelID, ok := u.channels[guildID]
	u.mu.Unlock()
	if !ok {
		return
	}
	if _, err := u.api.ChannelMessageSend(channelID, content); err != nil {
		zlog.Warn().Msgf("discord: failed to send message: guild=%s err=%v", guildID, err)
	}
}

func (u *ProgressUpdater) forget(guildID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.current, guildID)
	delete(u.lines, guildID)
}
