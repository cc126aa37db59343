// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord   DiscordConfig           `yaml:"discord"`
	Spotify   SpotifyConfig           `yaml:"spotify"`
	Extractor ExtractorConfig         `yaml:"extractor"`
	YtDlp     YtDlpConfig             `yaml:"ytdlp"`
	Playback  PlaybackConfig          `yaml:"playback"`
	Server    ServerConfig            `yaml:"server"`
	Admin     AdminConfig             `yaml:"admin"`
	Log       LogConfig               `yaml:"log"`
	Filters   map[string]FilterConfig `yaml:"filters"`
	Messages  MessagesConfig          `yaml:"messages"`
}

// DiscordConfig represents the chat gateway configuration.
type DiscordConfig struct {
	Token         string   `yaml:"token" validate:"required"`
	ApplicationID string   `yaml:"application_id" validate:"required"`
	GuildIDs      []string `yaml:"guild_ids"` // register commands per guild; empty registers globally
	Bitrate       int      `yaml:"bitrate" default:"64000" validate:"gte=8000,lte=512000"`
	// DisableProgress turns off the live "Now playing" message.
	DisableProgress bool `yaml:"disable_progress"`
}

// SpotifyConfig represents Spotify API configuration.
// Catalog links are rejected when no credentials are set.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Market       string `yaml:"market" validate:"omitempty,len=2"`
	MaxRetries   int    `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	RetryDelayMs int    `yaml:"retry_delay_ms" default:"500" validate:"gte=0,lte=10000"`
}

// ExtractorConfig represents the audio extraction pipeline configuration.
type ExtractorConfig struct {
	YtDlpPath  string `yaml:"ytdlp_path" default:"yt-dlp"`
	FFmpegPath string `yaml:"ffmpeg_path" default:"ffmpeg"`
	Format     string `yaml:"format" default:"bestaudio"`
}

// YtDlpConfig represents video platform metadata lookup configuration.
type YtDlpConfig struct {
	TimeoutSec    int `yaml:"timeout_sec" default:"30" validate:"gte=1,lte=300"`
	PlaylistLimit int `yaml:"playlist_limit" default:"100" validate:"gte=1,lte=1000"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	TickIntervalMs    int `yaml:"tick_interval_ms" default:"1000" validate:"gte=100,lte=10000"`
	BarWidth          int `yaml:"bar_width" default:"20" validate:"gte=5,lte=60"`
	ConnectTimeoutSec int `yaml:"connect_timeout_sec" default:"15" validate:"gte=1,lte=120"`
	EventBuffer       int `yaml:"event_buffer" default:"64" validate:"gte=1"`
	Volume            int `yaml:"volume" default:"100" validate:"gte=1,lte=100"`
}

// ServerConfig represents control API server configuration.
type ServerConfig struct {
	Enabled bool        `yaml:"enabled"`
	Addr    string      `yaml:"addr" default:":8080"`
	Hooks   HooksConfig `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token"`
}

// LogConfig represents logger configuration.
type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Output string `yaml:"output" default:"stdout"`
	File   string `yaml:"file"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// MessagesConfig represents user-facing messages.
// Messages containing %s or %d are formatted by the caller.
type MessagesConfig struct {
	DefaultError          string `yaml:"default_error" default:"❌ Something went wrong. Please try again."`
	NoVoiceChannel        string `yaml:"no_voice_channel" default:"You need to join a voice channel first!"`
	ConnectionFailed      string `yaml:"connection_failed" default:"❌ Could not join the voice channel."`
	ResolutionFailed      string `yaml:"resolution_failed" default:"❌ Failed to fetch song info. Please try again."`
	StreamFailed          string `yaml:"stream_failed" default:"❌ Could not play **%s**, skipping."`
	PlaybackFailed        string `yaml:"playback_failed" default:"❌ Could not play the requested track."`
	AddedToQueue          string `yaml:"added_to_queue" default:"🎵 Added to queue: **%s**"`
	AddedPlaylist         string `yaml:"added_playlist" default:"🎵 Added %d tracks to the queue."`
	NowPlaying            string `yaml:"now_playing" default:"🎶 Now Playing: **%s**"`
	QueueHeader           string `yaml:"queue_header" default:"🎶 Current Queue:"`
	QueueEmpty            string `yaml:"queue_empty" default:"Queue is empty."`
	Paused                string `yaml:"paused" default:"⏸️ Paused the music."`
	AlreadyPaused         string `yaml:"already_paused" default:"Music is already paused."`
	NothingPlaying        string `yaml:"nothing_playing" default:"Nothing is playing."`
	Resumed               string `yaml:"resumed" default:"▶️ Resumed the music."`
	NotPaused             string `yaml:"not_paused" default:"Music is not paused."`
	Stopped               string `yaml:"stopped" default:"⏹️ Stopped the music and cleared the queue."`
	Skipped               string `yaml:"skipped" default:"⏭️ Skipped to the next song."`
	SkippedQueueEmpty     string `yaml:"skipped_queue_empty" default:"The queue is empty. Stopping playback."`
	Left                  string `yaml:"left" default:"👋 Left the voice channel and cleared the queue."`
	NotConnected          string `yaml:"not_connected" default:"I am not in a voice channel."`
	VolumeSet             string `yaml:"volume_set" default:"🔊 Volume set to %d%%."`
	InvalidVolume         string `yaml:"invalid_volume" default:"Volume must be between 0 and 100."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"❌ That track is too long."`
	PlaylistTooLarge      string `yaml:"playlist_too_large" default:"❌ That playlist has too many tracks."`
	DuplicateTrack        string `yaml:"duplicate_track" default:"🔁 That song is already playing or queued."`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying environment overrides,
// defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		c.Discord.Token = v
	}
	if v := os.Getenv("DISCORD_APPLICATION_ID"); v != "" {
		c.Discord.ApplicationID = v
	}
	if v := os.Getenv("DISCORD_GUILD_ID"); v != "" {
		c.Discord.GuildIDs = strings.Split(v, ",")
	}
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	switch code {
	case "no_voice_channel":
		return c.Messages.NoVoiceChannel
	case "connection_failed":
		return c.Messages.ConnectionFailed
	case "resolution_failed":
		return c.Messages.ResolutionFailed
	case "stream_failed":
		return c.Messages.StreamFailed
	case "playback_failed":
		return c.Messages.PlaybackFailed
	case "added_to_queue":
		return c.Messages.AddedToQueue
	case "added_playlist":
		return c.Messages.AddedPlaylist
	case "now_playing":
		return c.Messages.NowPlaying
	case "queue_header":
		return c.Messages.QueueHeader
	case "queue_empty":
		return c.Messages.QueueEmpty
	case "paused":
		return c.Messages.Paused
	case "already_paused":
		return c.Messages.AlreadyPaused
	case "nothing_playing":
		return c.Messages.NothingPlaying
	case "resumed":
		return c.Messages.Resumed
	case "not_paused":
		return c.Messages.NotPaused
	case "stopped":
		return c.Messages.Stopped
	case "skipped":
		return c.Messages.Skipped
	case "skipped_queue_empty":
		return c.Messages.SkippedQueueEmpty
	case "left":
		return c.Messages.Left
	case "not_connected":
		return c.Messages.NotConnected
	case "volume_set":
		return c.Messages.VolumeSet
	case "invalid_volume":
		return c.Messages.InvalidVolume
	case "duration_limit_exceeded":
		return c.Messages.DurationLimitExceeded
	case "playlist_too_large":
		return c.Messages.PlaylistTooLarge
	case "duplicate_track":
		return c.Messages.DuplicateTrack
	default:
		return c.Messages.DefaultError
	}
}

// HasCatalog reports whether catalog credentials are configured.
func (c *Config) HasCatalog() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}

// TickInterval returns the progress ticker cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Playback.TickIntervalMs) * time.Millisecond
}

// ConnectTimeout returns the voice join timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Playback.ConnectTimeoutSec) * time.Second
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.Server.Enabled && c.Admin.Token == "" {
		return errors.New("admin.token is required when the control server is enabled")
	}
	if (c.Spotify.ClientID == "") != (c.Spotify.ClientSecret == "") {
		return errors.New("spotify.client_id and spotify.client_secret must be set together")
	}

	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// GetFilterSettings returns the settings for a filter.
func (c *Config) GetFilterSettings(filterName string) map[string]any {
	if f, ok := c.Filters[filterName]; ok {
		return f.Settings
	}
	return nil
}
