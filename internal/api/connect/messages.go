package connect

import (
	"github.com/szmak/djszmak-bot/internal/app/notification"
	"github.com/szmak/djszmak-bot/internal/app/playback"
	"github.com/szmak/djszmak-bot/internal/app/session"
)

// GuildRequest addresses a command to one guild.
type GuildRequest struct {
	GuildID string `json:"guild_id"`
}

// PlayRequest asks the bot to play a URL in a guild.
type PlayRequest struct {
	GuildID       string `json:"guild_id"`
	ChannelID     string `json:"channel_id,omitempty"`
	URL           string `json:"url"`
	RequesterID   string `json:"requester_id,omitempty"`
	RequesterName string `json:"requester_name,omitempty"`
}

// PlayResponse reports the outcome of a play request.
type PlayResponse struct {
	Success  bool                      `json:"success"`
	Code     string                    `json:"code"`
	Message  string                    `json:"message"`
	Tracks   []*notification.TrackInfo `json:"tracks,omitempty"`
	Position int                       `json:"position"`
	Current  *notification.TrackInfo   `json:"current,omitempty"`
}

// VolumeRequest sets a guild's playback volume.
type VolumeRequest struct {
	GuildID string `json:"guild_id"`
	Volume  int    `json:"volume"`
}

// CommandResponse reports the outcome of a control command.
type CommandResponse struct {
	Success bool                    `json:"success"`
	Code    string                  `json:"code"`
	Message string                  `json:"message"`
	Next    *notification.TrackInfo `json:"next,omitempty"`
	Removed int                     `json:"removed,omitempty"`
}

// QueueResponse lists a guild's queued tracks.
type QueueResponse struct {
	Tracks   []*notification.TrackInfo `json:"tracks"`
	TotalSec int                       `json:"total_sec"`
}

// GuildStatus is one guild's playback status.
type GuildStatus struct {
	GuildID          string                  `json:"guild_id"`
	State            string                  `json:"state"`
	Current          *notification.TrackInfo `json:"current,omitempty"`
	ElapsedSec       int                     `json:"elapsed_sec"`
	Line             string                  `json:"line,omitempty"`
	QueueLength      int                     `json:"queue_length"`
	QueueDurationSec int                     `json:"queue_duration_sec"`
	Connected        bool                    `json:"connected"`
	ChannelID        string                  `json:"channel_id,omitempty"`
	Volume           int                     `json:"volume"`
}

// ListGuildsRequest lists every guild with a session.
type ListGuildsRequest struct{}

// ListGuildsResponse holds the status of every guild with a session.
type ListGuildsResponse struct {
	Guilds []GuildStatus `json:"guilds"`
}

// SubscribeRequest opens a notification stream. An empty guild ID receives
// every guild.
type SubscribeRequest struct {
	GuildID string `json:"guild_id,omitempty"`
}

func toGuildStatus(s playback.Status) GuildStatus {
	return GuildStatus{
		GuildID:          s.GuildID,
		State:            s.State.String(),
		Current:          session.BuildTrackInfo(s.Current),
		ElapsedSec:       s.Elapsed,
		Line:             s.Line,
		QueueLength:      s.QueueLength,
		QueueDurationSec: int(s.QueueDuration.Seconds()),
		Connected:        s.Connected,
		ChannelID:        s.ChannelID,
		Volume:           s.Volume,
	}
}
