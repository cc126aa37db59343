// Package ytdlp provides video metadata lookup, search, and playlist expansion.
package ytdlp

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	goytdlp "github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"
	ytplaylist "github.com/ytget/ytdlp/v2"

	"github.com/szmak/djszmak-bot/internal/domain/failure"
	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// URL parameters and templates
const (
	PlaylistParam           = "list="
	ParamSeparator          = "&"
	YouTubeVideoURLTemplate = "https://www.youtube.com/watch?v=%s"
	searchPrefix            = "ytsearch1:"
)

// Config represents yt-dlp client configuration.
type Config struct {
	Binary        string        // yt-dlp executable (PATH lookup if empty)
	Timeout       time.Duration // Per-lookup timeout
	PlaylistLimit int           // Max playlist items (0 = all)
}

// Client resolves video platform URLs and queries into tracks.
type Client struct {
	binary        string
	timeout       time.Duration
	playlistLimit int
}

// New creates a new yt-dlp client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		binary:        cfg.Binary,
		timeout:       timeout,
		playlistLimit: cfg.PlaylistLimit,
	}
}

// Lookup fetches title and duration for a direct video URL.
func (c *Client) Lookup(ctx context.Context, videoURL string) (track.Track, error) {
	infos, err := c.extract(ctx, videoURL)
	if err != nil {
		return track.Track{}, failure.Resolution(err, "failed to fetch video metadata")
	}
	if len(infos) == 0 {
		return track.Track{}, failure.Resolutionf("no video metadata for %s", videoURL)
	}
	return toTrack(infos[0], videoURL), nil
}

// SearchFirst runs a single-result search and returns the first hit.
func (c *Client) SearchFirst(ctx context.Context, query string) (track.Track, error) {
	infos, err := c.extract(ctx, searchPrefix+query)
	if err != nil {
		return track.Track{}, failure.Resolution(err, "video search failed")
	}
	if len(infos) == 0 {
		return track.Track{}, failure.Resolutionf("no video found for %q", query)
	}

	t := toTrack(infos[0], "")
	if t.SourceURL == "" {
		return track.Track{}, failure.Resolutionf("search hit without URL for %q", query)
	}
	t.SearchQuery = query
	zlog.Debug().Msgf("ytdlp: search matched: query=%q title=%s url=%s", query, t.Title, t.SourceURL)
	return t, nil
}

// PlaylistItems lists every video of a playlist URL. Durations are unknown.
func (c *Client) PlaylistItems(ctx context.Context, playlistURL string) ([]track.Track, error) {
	playlistID := extractPlaylistID(playlistURL)
	if playlistID == "" {
		return nil, failure.Resolutionf("could not extract playlist ID from URL: %s", playlistURL)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	items, err := ytplaylist.New().GetPlaylistItemsAll(ctx, playlistID, c.playlistLimit)
	if err != nil {
		return nil, failure.Resolution(err, "failed to get playlist items")
	}

	tracks := make([]track.Track, 0, len(items))
	for _, it := range items {
		if it.VideoID == "" {
			continue
		}
		title := strings.TrimSpace(it.Title)
		if title == "" {
			title = it.VideoID
		}
		tracks = append(tracks, track.Track{
			SourceURL: fmt.Sprintf(YouTubeVideoURLTemplate, it.VideoID),
			Title:     title,
		})
	}

	zlog.Debug().Msgf("ytdlp: playlist expanded: id=%s items=%d", playlistID, len(tracks))
	return tracks, nil
}

// extract runs yt-dlp in metadata-only mode and returns the printed info objects.
func (c *Client) extract(ctx context.Context, target string) ([]*goytdlp.ExtractedInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := goytdlp.New().
		SkipDownload().
		PrintJSON().
		NoPlaylist().
		NoWarnings()
	if c.binary != "" {
		cmd = cmd.SetExecutable(c.binary)
	}

	res, err := cmd.Run(ctx, target)
	if err != nil {
		return nil, errors.Wrapf(err, "yt-dlp failed for %s", target)
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse yt-dlp output")
	}
	return infos, nil
}

// toTrack converts extracted info into a track. fallbackURL is used when
// yt-dlp does not report a page URL.
func toTrack(info *goytdlp.ExtractedInfo, fallbackURL string) track.Track {
	t := track.Track{SourceURL: fallbackURL, Title: info.ID}

	if info.WebpageURL != nil && *info.WebpageURL != "" {
		t.SourceURL = *info.WebpageURL
	}
	if info.Title != nil && strings.TrimSpace(*info.Title) != "" {
		t.Title = strings.TrimSpace(*info.Title)
	}
	if t.Title == "" {
		t.Title = t.SourceURL
	}
	if info.Duration != nil && *info.Duration > 0 {
		t.Duration = time.Duration(math.Round(*info.Duration)) * time.Second
		t.DurationKnown = true
	}
	return t
}

// extractPlaylistID extracts the playlist ID from various URL formats.
func extractPlaylistID(u string) string {
	if !strings.Contains(u, PlaylistParam) {
		return ""
	}
	parts := strings.Split(u, PlaylistParam)
	if len(parts) < 2 {
		return ""
	}
	playlistPart := parts[1]
	if strings.Contains(playlistPart, ParamSeparator) {
		playlistPart = strings.Split(playlistPart, ParamSeparator)[0]
	}
	return playlistPart
}
