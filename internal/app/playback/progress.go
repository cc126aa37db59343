package playback

import (
	"strings"

	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// DefaultBarWidth is the number of cells in the progress bar.
const DefaultBarWidth = 20

// FilledCells returns floor(elapsed/duration*width) clamped to [0, width].
// A zero or negative duration yields 0.
func FilledCells(elapsed, duration, width int) int {
	if duration <= 0 || elapsed <= 0 || width <= 0 {
		return 0
	}
	filled := elapsed * width / duration
	if filled > width {
		return width
	}
	return filled
}

// RenderProgress renders a progress line like "[#####---------------] 00:05 / 00:20".
// duration is in seconds; 0 means unknown.
func RenderProgress(elapsed, duration, width int) string {
	if width <= 0 {
		width = DefaultBarWidth
	}
	filled := FilledCells(elapsed, duration, width)

	var b strings.Builder
	b.Grow(width + 20)
	b.WriteByte('[')
	b.WriteString(strings.Repeat("#", filled))
	b.WriteString(strings.Repeat("-", width-filled))
	b.WriteString("] ")
	b.WriteString(track.FormatSeconds(elapsed))
	b.WriteString(" / ")
	if duration > 0 {
		b.WriteString(track.FormatSeconds(duration))
	} else {
		b.WriteString("--:--")
	}
	return b.String()
}
