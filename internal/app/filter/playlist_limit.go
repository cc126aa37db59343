package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/domain/track"
)

// PlaylistLimitConfig represents the configuration for PlaylistLimitFilter.
type PlaylistLimitConfig struct {
	MaxItems int `yaml:"max_items" mapstructure:"max_items" default:"50" validate:"gte=1"`
}

// PlaylistLimitFilter rejects playlists with too many items.
type PlaylistLimitFilter struct {
	config *PlaylistLimitConfig
}

// NewPlaylistLimitFilter creates a new playlist limit filter.
func NewPlaylistLimitFilter() *PlaylistLimitFilter {
	return &PlaylistLimitFilter{}
}

func (f *PlaylistLimitFilter) Name() string {
	return "playlist_limit_filter"
}

func (f *PlaylistLimitFilter) Description() string {
	return "Rejects playlists with more items than allowed"
}

func (f *PlaylistLimitFilter) ReturnCodes() []string {
	return []string{"playlist_too_large"}
}

func (f *PlaylistLimitFilter) ValidateConfig(settings map[string]any) error {
	var config PlaylistLimitConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}

	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}

	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	if err := validator.New().Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("playlist limit filter config: %+v", config)
	return nil
}

func (f *PlaylistLimitFilter) AppliesTo(origin Origin) bool {
	return origin == OriginPlaylist
}

func (f *PlaylistLimitFilter) Check(ctx context.Context, req TrackRequest, tracks []track.Track) Result {
	if f.config == nil {
		return Accept()
	}
	if len(tracks) > f.config.MaxItems {
		return Reject("playlist_too_large")
	}
	return Accept()
}

func init() {
	Register("playlist_limit_filter", func() Filter {
		return &PlaylistLimitFilter{}
	})
}
