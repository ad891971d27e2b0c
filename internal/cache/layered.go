package cache

import (
	"context"
	"time"

	"github.com/ppiankov/kbpublish/internal/model"
)

// LayeredStore implements a two-layer cache (memory in front of a persistent store)
type LayeredStore struct {
	memory Store
	disk   Store
}

// NewLayeredStore creates a new layered store over an existing persistent store
func NewLayeredStore(memoryTTL time.Duration, disk Store) *LayeredStore {
	return &LayeredStore{
		memory: NewMemoryStore(memoryTTL, 10*time.Minute),
		disk:   disk,
	}
}

// Get retrieves an entry (checks memory first, then the persistent layer)
func (c *LayeredStore) Get(ctx context.Context, typ model.IdentifierType, key string) (model.IdentifierCacheEntry, bool, error) {
	if entry, found, _ := c.memory.Get(ctx, typ, key); found {
		return entry, true, nil
	}

	entry, found, err := c.disk.Get(ctx, typ, key)
	if err != nil || !found {
		return entry, found, err
	}

	// Promote to memory
	_ = c.memory.Put(ctx, entry)
	return entry, true, nil
}

// Put stores an entry in both layers
func (c *LayeredStore) Put(ctx context.Context, entry model.IdentifierCacheEntry) error {
	if err := c.memory.Put(ctx, entry); err != nil {
		return err
	}
	return c.disk.Put(ctx, entry)
}

// RecordHit records a hit in both layers
func (c *LayeredStore) RecordHit(ctx context.Context, typ model.IdentifierType, key string, at time.Time) error {
	_ = c.memory.RecordHit(ctx, typ, key, at)
	return c.disk.RecordHit(ctx, typ, key, at)
}

// ListStale reads stale entries from the persistent layer, which is authoritative
func (c *LayeredStore) ListStale(ctx context.Context, validatedBefore time.Time, limit int) ([]model.IdentifierCacheEntry, error) {
	return c.disk.ListStale(ctx, validatedBefore, limit)
}

// Delete removes an entry from both layers
func (c *LayeredStore) Delete(ctx context.Context, typ model.IdentifierType, key string) error {
	_ = c.memory.Delete(ctx, typ, key)
	return c.disk.Delete(ctx, typ, key)
}

// Clear removes all entries from both layers
func (c *LayeredStore) Clear(ctx context.Context) error {
	_ = c.memory.Clear(ctx)
	return c.disk.Clear(ctx)
}

// Close closes the persistent layer
func (c *LayeredStore) Close() error {
	return c.disk.Close()
}

// Open returns the store described by the resolver configuration: a layered
// SQLite store when a path is set, otherwise a process-lifetime memory store
func Open(cfg model.ResolverConfig) (Store, error) {
	if cfg.CachePath == "" {
		return NewMemoryStore(0, 10*time.Minute), nil
	}
	disk, err := NewSQLiteStore(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	return NewLayeredStore(cfg.MemoryTTL, disk), nil
}
