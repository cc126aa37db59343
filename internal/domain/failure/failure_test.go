package failure

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "resolution", err: Resolution(base, "lookup failed"), expected: "resolution"},
		{name: "resolutionf", err: Resolutionf("unsupported url: %s", "x"), expected: "resolution"},
		{name: "stream", err: Stream(base, "decoder exited"), expected: "stream"},
		{name: "connection", err: Connection(base, "join failed"), expected: "connection"},
		{name: "marked connection", err: MarkConnection(errors.New("no voice channel")), expected: "connection"},
		{name: "marked state", err: MarkState(errors.New("already paused")), expected: "state"},
		{name: "unmarked", err: base, expected: "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Kind(tt.err))
		})
	}
}

func TestMarksSurviveWrapping(t *testing.T) {
	err := Stream(errors.New("exit status 1"), "yt-dlp failed")
	wrapped := fmt.Errorf("track A: %w", errors.Wrap(err, "advance"))

	assert.True(t, errors.Is(wrapped, ErrStream))
	assert.False(t, errors.Is(wrapped, ErrResolution))
	assert.Contains(t, wrapped.Error(), "yt-dlp failed")
}

func TestMarkedSentinelsStayDistinct(t *testing.T) {
	alreadyPaused := errors.New("already paused")
	nothingPlaying := errors.New("nothing is playing")
	noChannel := errors.New("no voice channel")
	interrupted := errors.New("interrupted")

	err := MarkState(alreadyPaused)
	assert.True(t, errors.Is(err, ErrState))
	assert.True(t, errors.Is(err, alreadyPaused))
	assert.False(t, errors.Is(err, nothingPlaying))
	assert.False(t, errors.Is(MarkState(nothingPlaying), alreadyPaused))

	err = MarkConnection(interrupted)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.False(t, errors.Is(err, noChannel))
	assert.False(t, errors.Is(err, ErrState))
}
