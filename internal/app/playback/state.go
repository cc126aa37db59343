// Package playback provides the per-guild playback state machine with integrated queue management.
package playback

// State represents the playback state.
type State int

const (
	StateIdle       State = iota // No track playing (queue empty or stopped); connection may be kept
	StateConnecting              // Joining a voice channel
	StatePlaying                 // Track is playing
	StatePaused                  // Track is paused
	StateTerminated              // Connection destroyed by leave
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// HasTrack reports whether a current track exists in this state.
func (s State) HasTrack() bool {
	return s == StatePlaying || s == StatePaused
}
