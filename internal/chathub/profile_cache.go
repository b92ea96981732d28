package chathub

import (
	"context"
	"sync"
	"time"

	"tinchat/backend/internal/config"
	"tinchat/backend/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Profile statuses reported to the profile store.
const (
	StatusOnline  = "online"
	StatusInChat  = "in_chat"
	StatusOffline = "offline"
)

// ProfileStore is the external profile collaborator.
type ProfileStore interface {
	// FetchProfile returns nil, nil when the identity has no profile.
	FetchProfile(ctx context.Context, identity string) (*models.Profile, error)
	UpdateStatus(ctx context.Context, identity, status string) (bool, error)
}

type cachedProfile struct {
	snap    models.ProfileSnapshot
	expires time.Time
}

// ProfileCache fronts a ProfileStore with a short TTL. Lookups never fail:
// connections without identity, missing profiles and store errors all
// resolve to the anonymous default.
type ProfileCache struct {
	store   ProfileStore
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]cachedProfile
}

// NewProfileCache wraps store, which may be nil.
func NewProfileCache(logger *zerolog.Logger, store ProfileStore, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		store:   store,
		ttl:     ttl,
		timeout: config.ProfileFetchTimeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "profiles").Logger(),
		entries: make(map[string]cachedProfile),
	}
}

// SetClock replaces the time source. Intended for tests.
func (c *ProfileCache) SetClock(now func() time.Time) { c.now = now }

// DefaultProfile is shown for anonymous participants.
func DefaultProfile() models.ProfileSnapshot {
	return models.ProfileSnapshot{
		DisplayName: config.DefaultDisplayName,
		Color:       config.DefaultColor,
	}
}

// Lookup returns the display attributes for identity.
func (c *ProfileCache) Lookup(ctx context.Context, identity string) models.ProfileSnapshot {
	if identity == "" || c.store == nil {
		return DefaultProfile()
	}

	c.mu.Lock()
	if entry, ok := c.entries[identity]; ok && c.now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.snap
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(identity, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		profile, err := c.store.FetchProfile(fetchCtx, identity)
		if err != nil {
			return nil, err
		}
		snap := DefaultProfile()
		if profile != nil {
			snap = withDefaults(profile.Snapshot())
		}
		c.mu.Lock()
		c.entries[identity] = cachedProfile{snap: snap, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("identity", identity).Msg("profile lookup failed, using default")
		return DefaultProfile()
	}
	return v.(models.ProfileSnapshot)
}

// Invalidate drops the cached entry of identity.
func (c *ProfileCache) Invalidate(identity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, identity)
}

// Follow drops the cached entry of every identity received on changes until
// ctx is done or changes is closed.
func (c *ProfileCache) Follow(ctx context.Context, changes <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case identity, ok := <-changes:
			if !ok {
				return
			}
			c.Invalidate(identity)
			c.logger.Debug().Str("identity", identity).Msg("profile changed, cached copy dropped")
		}
	}
}

// UpdateStatus reports a presence change to the store. Anonymous
// connections and a missing store are no-ops.
func (c *ProfileCache) UpdateStatus(ctx context.Context, identity, status string) bool {
	if identity == "" || c.store == nil {
		return false
	}
	updateCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ok, err := c.store.UpdateStatus(updateCtx, identity, status)
	if err != nil {
		c.logger.Warn().Err(err).Str("identity", identity).Str("status", status).Msg("failed to update profile status")
		return false
	}
	return ok
}

// Sweep drops expired entries.
func (c *ProfileCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for id, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, id)
		}
	}
}

func withDefaults(snap models.ProfileSnapshot) models.ProfileSnapshot {
	if snap.DisplayName == "" {
		snap.DisplayName = config.DefaultDisplayName
	}
	if snap.Color == "" {
		snap.Color = config.DefaultColor
	}
	return snap
}
