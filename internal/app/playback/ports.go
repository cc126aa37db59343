package playback

import (
	"context"
	"io"
)

// Stream is an opened audio byte stream.
// Close terminates it early; Wait blocks until the producing process has exited
// and reports a failure.ErrStream if it failed without producing any data.
type Stream interface {
	io.ReadCloser
	Wait() error
}

// AudioSource turns a resolved track URL into a byte stream.
type AudioSource interface {
	Open(ctx context.Context, sourceURL string) (Stream, error)
}

// PlayerState enumerates the states of an audio player.
type PlayerState int

const (
	PlayerIdle    PlayerState = iota // Created, nothing sent yet
	PlayerPlaying                    // Sending audio
	PlayerPaused                     // Holding audio
	PlayerStopped                    // Finished, failed, or stopped
)

// String returns the string representation of the player state.
func (s PlayerState) String() string {
	switch s {
	case PlayerIdle:
		return "idle"
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Player plays one stream on a voice connection.
type Player interface {
	// Pause holds playback. It is a no-op unless the player is playing.
	Pause()
	// Resume continues paused playback. It is a no-op unless the player is paused.
	Resume()
	// Stop terminates playback and closes the stream. It is idempotent.
	Stop()
	// SetVolume scales the output, in percent of the source level.
	SetVolume(percent int)
	// State returns the current player state.
	State() PlayerState
	// Done receives exactly one value when playback ends: nil on natural end
	// or after Stop, the stream error otherwise.
	Done() <-chan error
}

// Connection is a live voice connection.
type Connection interface {
	// Play starts sending stream and returns immediately.
	Play(stream Stream) Player
	// Disconnect leaves the voice channel.
	Disconnect() error
}

// Connector joins voice channels.
type Connector interface {
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
