package cache

import (
	"context"
	"time"

	"github.com/ppiankov/kbpublish/internal/model"
)

// Store persists identifier cache entries keyed by (type, normalized key).
// Writes are last-writer-wins upserts.
type Store interface {
	Get(ctx context.Context, typ model.IdentifierType, key string) (model.IdentifierCacheEntry, bool, error)
	Put(ctx context.Context, entry model.IdentifierCacheEntry) error
	RecordHit(ctx context.Context, typ model.IdentifierType, key string, at time.Time) error
	ListStale(ctx context.Context, validatedBefore time.Time, limit int) ([]model.IdentifierCacheEntry, error)
	Delete(ctx context.Context, typ model.IdentifierType, key string) error
	Clear(ctx context.Context) error
	Close() error
}

// EntryKey generates the flat key used by key-value layers
func EntryKey(typ model.IdentifierType, key string) string {
	return "kbpublish:v1:" + string(typ) + ":" + key
}
