// Package resolver turns user input into playable tracks.
package resolver

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/domain/failure"
	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// Catalog looks up track metadata in a music catalog.
type Catalog interface {
	GetTrack(ctx context.Context, ref string) (*track.CatalogTrack, error)
}

// VideoPlatform resolves videos by URL or search.
type VideoPlatform interface {
	Lookup(ctx context.Context, videoURL string) (track.Track, error)
	SearchFirst(ctx context.Context, query string) (track.Track, error)
	PlaylistItems(ctx context.Context, playlistURL string) ([]track.Track, error)
}

// Kind classifies an input.
type Kind int

const (
	KindUnsupported  Kind = iota // Not something we can play
	KindCatalogTrack             // Music catalog track URL or URI
	KindPlaylist                 // Video playlist URL
	KindVideo                    // Any other http(s) URL
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindCatalogTrack:
		return "catalog_track"
	case KindPlaylist:
		return "playlist"
	case KindVideo:
		return "video"
	default:
		return "unsupported"
	}
}

// Resolver resolves inputs into tracks.
type Resolver struct {
	catalog Catalog
	video   VideoPlatform
}

// New creates a resolver. catalog may be nil, in which case catalog URLs fail to resolve.
func New(catalog Catalog, video VideoPlatform) *Resolver {
	return &Resolver{
		catalog: catalog,
		video:   video,
	}
}

// Classify reports what kind of input this is.
func Classify(input string) Kind {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return KindCatalogTrack
	}

	u, err := url.Parse(input)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return KindUnsupported
	}

	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch {
	case host == "open.spotify.com" && strings.Contains(u.Path, "/track/"):
		return KindCatalogTrack
	case u.Query().Get("list") != "":
		return KindPlaylist
	default:
		return KindVideo
	}
}

// Resolve turns input into one or more tracks in play order.
//
// A catalog track is matched to the first hit of a single-result video search
// for "<artist> - <title> HQ audio"; no further ranking is applied.
func (r *Resolver) Resolve(ctx context.Context, input string) ([]track.Track, error) {
	input = strings.TrimSpace(input)
	kind := Classify(input)

	switch kind {
	case KindCatalogTrack:
		t, err := r.resolveCatalogTrack(ctx, input)
		if err != nil {
			return nil, err
		}
		return []track.Track{t}, nil

	case KindPlaylist:
		tracks, err := r.video.PlaylistItems(ctx, input)
		if err != nil {
			return nil, asResolution(err, "failed to expand playlist")
		}
		if len(tracks) == 0 {
			return nil, failure.Resolutionf("playlist is empty: %s", input)
		}
		zlog.Debug().Msgf("resolver: playlist resolved: url=%s tracks=%d", input, len(tracks))
		return tracks, nil

	case KindVideo:
		t, err := r.video.Lookup(ctx, input)
		if err != nil {
			return nil, asResolution(err, "failed to look up video")
		}
		return []track.Track{t}, nil

	default:
		return nil, failure.Resolutionf("unsupported input: %q", input)
	}
}

func (r *Resolver) resolveCatalogTrack(ctx context.Context, input string) (track.Track, error) {
	if r.catalog == nil {
		return track.Track{}, failure.Resolutionf("catalog lookups are not configured")
	}

	ct, err := r.catalog.GetTrack(ctx, input)
	if err != nil {
		return track.Track{}, asResolution(err, "catalog lookup failed")
	}

	query := ct.SearchQuery()
	t, err := r.video.SearchFirst(ctx, query)
	if err != nil {
		return track.Track{}, asResolution(err, "no video match for catalog track")
	}
	t.SearchQuery = query
	if !t.DurationKnown && ct.Duration > 0 {
		t.Duration = ct.Duration
		t.DurationKnown = true
	}

	zlog.Debug().Msgf("resolver: catalog track matched: id=%s query=%q url=%s", ct.ID, query, t.SourceURL)
	return t, nil
}

func asResolution(err error, msg string) error {
	if errors.Is(err, failure.ErrResolution) {
		return errors.Wrap(err, msg)
	}
	return failure.Resolution(err, msg)
}
