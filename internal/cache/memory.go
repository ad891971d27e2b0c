package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/ppiankov/kbpublish/internal/model"
)

// MemoryStore implements an in-process identifier cache
type MemoryStore struct {
	cache *gocache.Cache
	mu    sync.Mutex // serializes read-modify-write in Put and RecordHit
}

// NewMemoryStore creates a new memory store. A zero TTL keeps entries for
// the life of the process.
func NewMemoryStore(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryStore {
	if defaultTTL <= 0 {
		defaultTTL = gocache.NoExpiration
	}
	return &MemoryStore{
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves an entry from the cache
func (c *MemoryStore) Get(_ context.Context, typ model.IdentifierType, key string) (model.IdentifierCacheEntry, bool, error) {
	if val, found := c.cache.Get(EntryKey(typ, key)); found {
		return val.(model.IdentifierCacheEntry), true, nil
	}
	return model.IdentifierCacheEntry{}, false, nil
}

// Put stores an entry with the default TTL. Usage counters already held for
// the key are kept when the incoming entry carries older ones, as the
// persistent store does.
func (c *MemoryStore) Put(_ context.Context, entry model.IdentifierCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := EntryKey(entry.Type, entry.Key)
	if val, found := c.cache.Get(k); found {
		prev := val.(model.IdentifierCacheEntry)
		if prev.QueryCount > entry.QueryCount {
			entry.QueryCount = prev.QueryCount
		}
		if prev.LastQueriedAt.After(entry.LastQueriedAt) {
			entry.LastQueriedAt = prev.LastQueriedAt
		}
		if !prev.CreatedAt.IsZero() {
			entry.CreatedAt = prev.CreatedAt
		}
	}
	c.cache.SetDefault(k, entry)
	return nil
}

// RecordHit increments the query count and bumps the last-queried time
func (c *MemoryStore) RecordHit(_ context.Context, typ model.IdentifierType, key string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := EntryKey(typ, key)
	val, found := c.cache.Get(k)
	if !found {
		return nil
	}
	entry := val.(model.IdentifierCacheEntry)
	entry.QueryCount++
	entry.LastQueriedAt = at
	c.cache.SetDefault(k, entry)
	return nil
}

// ListStale returns entries last validated before the cutoff, oldest first
func (c *MemoryStore) ListStale(_ context.Context, validatedBefore time.Time, limit int) ([]model.IdentifierCacheEntry, error) {
	var stale []model.IdentifierCacheEntry
	for k, item := range c.cache.Items() {
		if !strings.HasPrefix(k, "kbpublish:v1:") {
			continue
		}
		entry, ok := item.Object.(model.IdentifierCacheEntry)
		if !ok || entry.Source == model.SourceStatic {
			continue
		}
		if entry.LastValidatedAt.Before(validatedBefore) {
			stale = append(stale, entry)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LastValidatedAt.Before(stale[j].LastValidatedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

// Delete removes an entry from the cache
func (c *MemoryStore) Delete(_ context.Context, typ model.IdentifierType, key string) error {
	c.cache.Delete(EntryKey(typ, key))
	return nil
}

// Clear removes all entries from the cache
func (c *MemoryStore) Clear(_ context.Context) error {
	c.cache.Flush()
	return nil
}

// Close is a no-op for the memory store
func (c *MemoryStore) Close() error {
	return nil
}
