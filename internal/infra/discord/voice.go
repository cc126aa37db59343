package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/app/playback"
)

// Connector joins voice channels through a gateway session.
type Connector struct {
	session *discordgo.Session
	bitrate int
}

// NewConnector creates a connector. bitrate is the Opus bitrate in bits per second.
func NewConnector(session *discordgo.Session, bitrate int) *Connector {
	return &Connector{
		session: session,
		bitrate: bitrate,
	}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Connect joins a voice channel, deafened. It gives up when ctx is done and
// disconnects a connection that completes afterwards.
func (c *Connector) Connect(ctx context.Context, guildID, channelID string) (playback.Connection, error) {
	results := make(chan joinResult, 1)
	go func() {
		vc, err := c.session.ChannelVoiceJoin(guildID, channelID, false, true)
		results <- joinResult{vc: vc, err: err}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, errors.Wrapf(r.err, "failed to join voice channel %s", channelID)
		}
		zlog.Debug().Msgf("discord: voice connection ready: guild=%s channel=%s", guildID, channelID)
		return &voiceConnection{vc: r.vc, guildID: guildID, bitrate: c.bitrate}, nil

	case <-ctx.Done():
		go func() {
			r := <-results
			if r.vc != nil {
				zlog.Debug().Msgf("discord: dropping late voice connection: guild=%s channel=%s", guildID, channelID)
				_ = r.vc.Disconnect()
			}
		}()
		return nil, errors.Wrap(ctx.Err(), "voice join interrupted")
	}
}

// voiceConnection plays streams on one voice connection.
type voiceConnection struct {
	vc      *discordgo.VoiceConnection
	guildID string
	bitrate int
}

// Play starts sending stream. Encoder failures are reported through Done.
func (c *voiceConnection) Play(stream playback.Stream) playback.Player {
	enc, err := newEncoder(c.bitrate)
	p := newOpusPlayer(stream, enc, c.vc.OpusSend, c.vc.Speaking)
	if err != nil {
		zlog.Error().Msgf("discord: cannot play: guild=%s err=%v", c.guildID, err)
		p.fail(err)
		return p
	}
	p.start()
	return p
}

func (c *voiceConnection) Disconnect() error {
	if err := c.vc.Disconnect(); err != nil {
		return errors.Wrapf(err, "failed to disconnect from guild %s", c.guildID)
	}
	return nil
}
