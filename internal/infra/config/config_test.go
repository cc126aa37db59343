package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
discord:
  token: file-token
  application_id: "1234"
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DISCORD_BOT_TOKEN", "DISCORD_APPLICATION_ID", "DISCORD_GUILD_ID",
		"SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "ADMIN_TOKEN",
	} {
		t.Setenv(key, "")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	clearEnv(t)
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	return cfg
}

func TestParse_Defaults(t *testing.T) {
	cfg := validConfig(t)

	assert.Equal(t, 64000, cfg.Discord.Bitrate)
	assert.Equal(t, "yt-dlp", cfg.Extractor.YtDlpPath)
	assert.Equal(t, "ffmpeg", cfg.Extractor.FFmpegPath)
	assert.Equal(t, "bestaudio", cfg.Extractor.Format)
	assert.Equal(t, 30, cfg.YtDlp.TimeoutSec)
	assert.Equal(t, 1000, cfg.Playback.TickIntervalMs)
	assert.Equal(t, 20, cfg.Playback.BarWidth)
	assert.Equal(t, 100, cfg.Playback.Volume)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "Queue is empty.", cfg.Messages.QueueEmpty)
	assert.Equal(t, "1s", cfg.TickInterval().String())
	assert.Equal(t, "15s", cfg.ConnectTimeout().String())
	assert.False(t, cfg.HasCatalog())
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DISCORD_BOT_TOKEN", "env-token")
	t.Setenv("DISCORD_GUILD_ID", "g1,g2")
	t.Setenv("SPOTIFY_CLIENT_ID", "id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "secret")

	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, []string{"g1", "g2"}, cfg.Discord.GuildIDs)
	assert.True(t, cfg.HasCatalog())
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalYAML+`
playback:
  tick_interval_ms: 500
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_minutes: 10
messages:
  queue_empty: "Nothing queued."
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Playback.TickIntervalMs)
	assert.Equal(t, "Nothing queued.", cfg.GetMessage("queue_empty"))
	assert.True(t, cfg.IsFilterEnabled("duration_limit_filter"))
	assert.False(t, cfg.IsFilterEnabled("playlist_limit_filter"))
	assert.Equal(t, 10, cfg.GetFilterSettings("duration_limit_filter")["max_minutes"])

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "missing discord token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantErr: true,
			errMsg:  "Token",
		},
		{
			name:    "missing application id",
			mutate:  func(c *Config) { c.Discord.ApplicationID = "" },
			wantErr: true,
			errMsg:  "ApplicationID",
		},
		{
			name:    "invalid market length",
			mutate:  func(c *Config) { c.Spotify.Market = "JAPAN" },
			wantErr: true,
			errMsg:  "Market",
		},
		{
			name:    "tick interval too small",
			mutate:  func(c *Config) { c.Playback.TickIntervalMs = 10 },
			wantErr: true,
			errMsg:  "TickIntervalMs",
		},
		{
			name:    "server enabled without admin token",
			mutate:  func(c *Config) { c.Server.Enabled = true },
			wantErr: true,
			errMsg:  "admin.token",
		},
		{
			name: "server enabled with admin token",
			mutate: func(c *Config) {
				c.Server.Enabled = true
				c.Admin.Token = "secret"
			},
		},
		{
			name:    "half spotify credentials",
			mutate:  func(c *Config) { c.Spotify.ClientID = "id" },
			wantErr: true,
			errMsg:  "client_secret",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: true,
			errMsg:  "Level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr {
				require.Error(t, err, "expected validation to fail")
				assert.Contains(t, err.Error(), tt.errMsg,
					"error message should mention the problematic field")
			} else {
				assert.NoError(t, err, "expected validation to pass")
			}
		})
	}
}

func TestConfig_GetMessage(t *testing.T) {
	cfg := validConfig(t)

	tests := []struct {
		code string
		want string
	}{
		{code: "paused", want: cfg.Messages.Paused},
		{code: "skipped_queue_empty", want: cfg.Messages.SkippedQueueEmpty},
		{code: "not_connected", want: cfg.Messages.NotConnected},
		{code: "duration_limit_exceeded", want: cfg.Messages.DurationLimitExceeded},
		{code: "no_such_code", want: cfg.Messages.DefaultError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.GetMessage(tt.code))
			assert.NotEmpty(t, cfg.GetMessage(tt.code))
		})
	}
}
