package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// QueueLister returns the guild's current track followed by its queued tracks.
type QueueLister func(guildID string) []track.QueuedTrack

// QueueAware is implemented by filters that inspect the guild's queue. The
// session manager hands them a lister after creating them.
type QueueAware interface {
	SetQueueLister(lister QueueLister)
}

// DuplicateTrackFilter rejects a track that is already playing or queued.
// Detects:
// - Same source URL
// - Same title once remaster and version suffixes are removed
type DuplicateTrackFilter struct {
	queue QueueLister
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(queue QueueLister) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{
		queue: queue,
	}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects a song that is already playing or queued, including remasters and alternate versions"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// SetQueueLister sets the source of the guild's queued tracks.
func (f *DuplicateTrackFilter) SetQueueLister(lister QueueLister) {
	f.queue = lister
}

// AppliesTo returns which request origins this filter applies to.
func (f *DuplicateTrackFilter) AppliesTo(origin Origin) bool {
	return origin == OriginSingle
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(settings map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks whether any requested track duplicates a queued one.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req TrackRequest, tracks []track.Track) Result {
	if f.queue == nil {
		return Accept()
	}

	queued := f.queue(req.GuildID)
	for _, requested := range tracks {
		for _, qt := range queued {
			if isDuplicate(qt.Track, requested) {
				return Reject("duplicate_track")
			}
		}
	}
	return Accept()
}

func isDuplicate(queued, requested track.Track) bool {
	if queued.SourceURL != "" && queued.SourceURL == requested.SourceURL {
		return true
	}
	name := normalizeTrackName(queued.Title)
	return name != "" && name == normalizeTrackName(requested.Title)
}

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[]official\s+(music\s+)?(video|audio)[\)\]]`), // "(Official Video)"
		regexp.MustCompile(`\s*[\(\[](lyrics?|lyric\s+video)[\)\]]`),             // "[Lyrics]"
		regexp.MustCompile(`\s*\(.*?version\)`),                                  // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),                                     // "(Radio Edit)"
		regexp.MustCompile(`\s*\(live\)`),                                        // "(Live)"
		regexp.MustCompile(`\s+-\s+live$`),                                       // "- Live"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),                               // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`),                           // "- Single Version"
	}
	spaces = regexp.MustCompile(`\s+`)
)

// normalizeTrackName removes remaster information and version details.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = spaces.ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	return strings.TrimRight(normalized, " -")
}

func init() {
	Register("duplicate_track_filter", func() Filter {
		return &DuplicateTrackFilter{}
	})
}
