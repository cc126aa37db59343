package playback

import "github.com/szmak/djszmak-bot/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted EventType = iota // Track started playing
	EventTrackEnded                    // Track finished playing
	EventTrackSkipped                  // Track was skipped
	EventTrackFailed                   // Track could not be opened or its stream failed
	EventProgress                      // Ticker fired
	EventStateChanged                  // Playback state changed (pause/resume/stop/connect)
	EventQueueEmpty                    // Advance found no next track
	EventDisconnected                  // Voice connection destroyed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventTrackFailed:
		return "track_failed"
	case EventProgress:
		return "progress"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type       EventType
	GuildID    string
	Track      *track.QueuedTrack // Current or affected track (nil for some events)
	State      State              // Playback state after the event
	Generation uint64             // Stream generation the event belongs to
	Elapsed    int                // Elapsed seconds (progress events)
	Line       string             // Rendered progress line (progress and started events)
	Err        error              // Failure cause (track_failed)
}
