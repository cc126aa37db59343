package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogTrack_SearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		track    CatalogTrack
		expected string
	}{
		{
			name:     "primary artist only",
			track:    CatalogTrack{Title: "Around the World", Artists: []string{"Daft Punk", "Someone Else"}},
			expected: "Daft Punk - Around the World HQ audio",
		},
		{
			name:     "no artists",
			track:    CatalogTrack{Title: "Untitled"},
			expected: "Untitled HQ audio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.SearchQuery())
		})
	}
}
