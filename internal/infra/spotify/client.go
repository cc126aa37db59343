// Package spotify provides a client for the Spotify Web API track catalog.
package spotify

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/szmak/djszmak-bot/internal/domain/failure"
	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// Client is a Spotify API client authenticated with the client-credentials flow.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string        // Optional market for track relinking
	BaseURL      string        // API base URL override (tests)
	TokenURL     string        // Token endpoint override (tests)
	MaxRetries   int           // Attempts per request (default 3)
	RetryDelay   time.Duration // Linear backoff step (default 1s)
}

// New creates a new Spotify client.
// The access token is fetched lazily on the first request and refreshed on expiry.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = spotifyauth.TokenURL
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
	}
	httpClient := creds.Client(ctx)

	var opts []spotify.ClientOption
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, spotify.WithBaseURL(baseURL))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     cfg.Market,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}, nil
}

// GetTrack retrieves track metadata by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, trackRef string) (*track.CatalogTrack, error) {
	id := extractTrackID(trackRef)
	if id == "" {
		return nil, failure.Resolutionf("invalid spotify track reference: %s", trackRef)
	}

	var opts []spotify.RequestOption
	if c.market != "" {
		opts = append(opts, spotify.Market(c.market))
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), opts...)
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, failure.Resolution(err, "failed to get spotify track")
	}

	zlog.Debug().Msgf("spotify: track fetched: id=%s name=%s", id, result.Name)
	return convertTrack(result), nil
}

// GetTrackURL returns the Spotify URL for a track.
func (c *Client) GetTrackURL(trackID string) string {
	return "https://open.spotify.com/track/" + trackID
}

// convertTrack converts a Spotify FullTrack to a catalog track.
func convertTrack(t *spotify.FullTrack) *track.CatalogTrack {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return &track.CatalogTrack{
		ID:       string(t.ID),
		Title:    t.Name,
		Artists:  artists,
		Duration: time.Duration(t.Duration) * time.Millisecond,
	}
}

// retry retries an operation with linear backoff.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			select {
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// IsTrackRef reports whether input looks like a Spotify track URL or URI.
func IsTrackRef(input string) bool {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return true
	}
	return strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/")
}

// extractTrackID extracts the track ID from a Spotify track URL or URI.
func extractTrackID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}
