package track

import "time"

// CatalogTrack is a track as described by a music catalog.
// It is not playable by itself; the resolver matches it to a video.
type CatalogTrack struct {
	ID       string        // Catalog track ID
	Title    string        // Track name
	Artists  []string      // Artist names, primary first
	Duration time.Duration // Catalog duration
}

// PrimaryArtist returns the first artist, or an empty string.
func (c CatalogTrack) PrimaryArtist() string {
	if len(c.Artists) == 0 {
		return ""
	}
	return c.Artists[0]
}

// SearchQuery builds the video search query for this track.
func (c CatalogTrack) SearchQuery() string {
	artist := c.PrimaryArtist()
	if artist == "" {
		return c.Title + " HQ audio"
	}
	return artist + " - " + c.Title + " HQ audio"
}
