// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"time"
)

// Track represents a resolved, playable track.
// It is immutable once created by the resolver.
type Track struct {
	SourceURL     string        // Video platform URL handed to the extractor
	Title         string        // Display title
	Duration      time.Duration // Track duration (meaningful only if DurationKnown)
	DurationKnown bool          // False when the platform did not report a duration
	SearchQuery   string        // Query used to find SourceURL (catalog lookups only)
}

// Requester represents the person who requested the track.
type Requester struct {
	ID   string // Platform user ID
	Name string // Display name
}

// QueuedTrack represents a track in the playback queue.
type QueuedTrack struct {
	Track     Track     // Resolved track info
	Requester Requester // Requester info
	AddedAt   time.Time // Time when added to queue
}

// New creates a track with a known duration.
func New(sourceURL, title string, duration time.Duration) Track {
	return Track{
		SourceURL:     sourceURL,
		Title:         title,
		Duration:      duration,
		DurationKnown: true,
	}
}

// DurationSeconds returns the duration in whole seconds, or 0 if unknown.
func (t Track) DurationSeconds() int {
	if !t.DurationKnown || t.Duration < 0 {
		return 0
	}
	return int(t.Duration / time.Second)
}

// FormatDuration renders the duration as mm:ss, or --:-- if unknown.
func (t Track) FormatDuration() string {
	if !t.DurationKnown {
		return "--:--"
	}
	return FormatSeconds(t.DurationSeconds())
}

// FormatSeconds renders a number of seconds as mm:ss.
func FormatSeconds(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
