// Package filter provides the filter chain for play request validation.
package filter

import (
	"context"

	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// Origin describes where the tracks of a request came from.
type Origin int

const (
	OriginSingle   Origin = iota // One track from a video or catalog URL
	OriginPlaylist               // Every item of a playlist URL
)

// String returns the string representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginSingle:
		return "single"
	case OriginPlaylist:
		return "playlist"
	default:
		return "unknown"
	}
}

// TrackRequest represents a play request to be validated.
type TrackRequest struct {
	GuildID   string
	Input     string // Raw user input (URL)
	Requester track.Requester
	Origin    Origin
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "duration_limit_exceeded", "playlist_too_large"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Filter is the interface for request filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates the filter configuration.
	ValidateConfig(settings map[string]any) error
	// AppliesTo returns true if this filter should be applied to requests of the given origin.
	AppliesTo(origin Origin) bool
	// Check performs the filter check on the resolved tracks of a request.
	Check(ctx context.Context, req TrackRequest, tracks []track.Track) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func() Filter)

// Register registers a filter factory.
func Register(name string, factory func() Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func() Filter {
	return registry
}
