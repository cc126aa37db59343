// Package registry keeps one playback controller per guild.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/szmak/djszmak-bot/internal/app/playback"
)

var (
	ErrUnknownGuild = errors.New("unknown guild")
	ErrClosed       = errors.New("registry is closed")
)

// Factory creates the controller for a guild seen for the first time.
type Factory func(guildID string) *playback.Controller

// GuildRegistry manages per-guild controllers with thread-safe access.
type GuildRegistry struct {
	mu          sync.RWMutex
	controllers map[string]*playback.Controller
	factory     Factory
	closed      bool
}

// NewGuildRegistry creates a new guild registry.
func NewGuildRegistry(factory Factory) *GuildRegistry {
	return &GuildRegistry{
		controllers: make(map[string]*playback.Controller),
		factory:     factory,
	}
}

// GetOrCreate returns the guild's controller, creating it on first use.
// created reports whether the controller was created by this call.
func (r *GuildRegistry) GetOrCreate(guildID string) (c *playback.Controller, created bool, err error) {
	r.mu.RLock()
	c, ok := r.controllers[guildID]
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, false, ErrClosed
	}
	if ok {
		return c, false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	if existing, ok := r.controllers[guildID]; ok {
		return existing, false, nil
	}

	c = r.factory(guildID)
	r.controllers[guildID] = c
	zlog.Debug().Msgf("registry: controller created: guild=%s", guildID)
	return c, true, nil
}

// Get retrieves a guild's controller.
func (r *GuildRegistry) Get(guildID string) (*playback.Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.controllers[guildID]
	if !ok {
		return nil, ErrUnknownGuild
	}
	return c, nil
}

// Remove closes and forgets a guild's controller.
func (r *GuildRegistry) Remove(guildID string) error {
	r.mu.Lock()
	c, ok := r.controllers[guildID]
	delete(r.controllers, guildID)
	r.mu.Unlock()

	if !ok {
		return ErrUnknownGuild
	}
	c.Close()
	return nil
}

// GuildIDs returns the registered guild IDs in sorted order.
func (r *GuildRegistry) GuildIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.controllers))
	for id := range r.controllers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseAll closes every controller. Later GetOrCreate calls fail with ErrClosed.
func (r *GuildRegistry) CloseAll() {
	r.mu.Lock()
	controllers := r.controllers
	r.controllers = make(map[string]*playback.Controller)
	r.closed = true
	r.mu.Unlock()

	for _, c := range controllers {
		c.Close()
	}
}
