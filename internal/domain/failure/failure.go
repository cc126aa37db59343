// Package failure defines the error taxonomy shared by the playback pipeline.
//
// Errors produced anywhere in the pipeline are marked with one of the sentinels
// below so callers can classify them with errors.Is regardless of wrapping.
package failure

import "github.com/cockroachdb/errors"

var (
	// ErrResolution marks a bad or unsupported URL, or a catalog/platform failure.
	ErrResolution = errors.New("resolution error")
	// ErrStream marks a decoder failure or a stream that produced no data.
	ErrStream = errors.New("stream error")
	// ErrConnection marks a missing voice channel or a failed voice join.
	ErrConnection = errors.New("connection error")
	// ErrState marks a command that is not valid in the current state.
	ErrState = errors.New("state error")
)

// Resolution wraps err as a resolution error.
func Resolution(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrResolution)
}

// Resolutionf creates a new resolution error.
func Resolutionf(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrResolution)
}

// Stream wraps err as a stream error.
func Stream(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrStream)
}

// Connection wraps err as a connection error.
func Connection(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrConnection)
}

// MarkConnection marks a sentinel as a connection error. The sentinel itself
// stays unmarked so that distinct sentinels never match each other.
func MarkConnection(err error) error {
	return errors.Mark(err, ErrConnection)
}

// MarkState marks a sentinel as a state error.
func MarkState(err error) error {
	return errors.Mark(err, ErrState)
}

// Kind returns a short code for err's category, or "internal" if unmarked.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrStream):
		return "stream"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrState):
		return "state"
	default:
		return "internal"
	}
}
