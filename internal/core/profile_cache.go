package core

// profile_cache.go holds the read-side profile cache.
//
// The cache is owned by whoever constructs the Service and is passed in; it
// is populated on read and invalidated after every successful write. Writes
// never read through it: uploads and restores always fetch a fresh snapshot.

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how stale the player listing can get when another
// writer updates the store behind this instance.
const DefaultCacheTTL = 5 * time.Minute

const snapshotCacheKey = "profiles"

// ProfileCache caches the full profile snapshot. Concurrent misses share a
// single fetch.
type ProfileCache struct {
	store ProfileStore
	items *cache.Cache
	group singleflight.Group
	// gen changes on every Invalidate. A fetch stores its result only if
	// gen is unchanged, so a fetch begun before a write cannot repopulate
	// the cache with pre-write data.
	gen atomic.Uint64
}

// NewProfileCache creates a cache over store. A non-positive ttl uses
// DefaultCacheTTL.
func NewProfileCache(store ProfileStore, ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ProfileCache{
		store: store,
		items: cache.New(ttl, 2*ttl),
	}
}

// Snapshot returns the cached snapshot, fetching it on a miss.
func (c *ProfileCache) Snapshot(ctx context.Context) (ProfileSnapshot, error) {
	if v, ok := c.items.Get(snapshotCacheKey); ok {
		return v.(ProfileSnapshot), nil
	}

	v, err, _ := c.group.Do(snapshotCacheKey, func() (any, error) {
		gen := c.gen.Load()
		snap, err := c.store.FetchAllProfiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch profiles: %w", err)
		}
		if c.gen.Load() == gen {
			c.items.SetDefault(snapshotCacheKey, snap)
		}
		return snap, nil
	})
	if err != nil {
		return ProfileSnapshot{}, err
	}
	return v.(ProfileSnapshot), nil
}

// Profile returns one cached profile.
func (c *ProfileCache) Profile(ctx context.Context, key string) (PlayerProfile, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return PlayerProfile{}, err
	}
	p, ok := snap.Get(key)
	if !ok {
		if k, found := ResolveOne(key, snap); found {
			p, _ = snap.Get(k)
			return p, nil
		}
		return PlayerProfile{}, fmt.Errorf("profile %q: %w", key, ErrProfileNotFound)
	}
	return p, nil
}

// Invalidate drops the cached snapshot.
func (c *ProfileCache) Invalidate() {
	c.gen.Add(1)
	c.group.Forget(snapshotCacheKey)
	c.items.Delete(snapshotCacheKey)
}
