package resolve

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/kbpublish/internal/cache"
	"github.com/ppiankov/kbpublish/internal/logging"
	"github.com/ppiankov/kbpublish/internal/metrics"
	"github.com/ppiankov/kbpublish/internal/model"
)

// Remote answers structured lookups for keys missing from the cache
type Remote interface {
	Lookup(ctx context.Context, typ model.IdentifierType, key string) (string, error)
}

// IdentifierResolver is the lookup surface consumed by the entity builder
type IdentifierResolver interface {
	Resolve(ctx context.Context, typ model.IdentifierType, raw string) (string, bool)
}

// Resolver maps free-text values to canonical identifiers using the static
// tables, the identifier cache and the remote lookup, in that order
type Resolver struct {
	store         cache.Store
	remote        Remote
	logger        logrus.FieldLogger
	staleAfter    time.Duration
	lookupTimeout time.Duration
	now           func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// NewResolver creates a resolver. remote may be nil, in which case only the
// static tables and the cache are consulted.
func NewResolver(store cache.Store, remote Remote, cfg model.ResolverConfig, logger logrus.FieldLogger) *Resolver {
	timeout := cfg.LookupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		store:         store,
		remote:        remote,
		logger:        logging.OrDiscard(logger).WithField("component", "resolver"),
		staleAfter:    cfg.StaleAfter,
		lookupTimeout: timeout,
		now:           time.Now,
		inflight:      make(map[string]struct{}),
	}
}

// Resolve returns the canonical identifier for raw, or false when it cannot
// be resolved. Lookup failures never surface as errors.
func (r *Resolver) Resolve(ctx context.Context, typ model.IdentifierType, raw string) (string, bool) {
	key := CanonicalKey(typ, raw)
	if key == "" {
		return "", false
	}
	log := r.logger.WithFields(logrus.Fields{"type": typ, "key": key})

	if id, ok := Static(typ, key); ok {
		metrics.ResolverLookups.WithLabelValues(string(typ), "static").Inc()
		return id, true
	}

	entry, found, err := r.store.Get(ctx, typ, key)
	if err != nil {
		log.WithError(err).Warn("Identifier cache read failed")
	}
	if found {
		metrics.ResolverLookups.WithLabelValues(string(typ), "cache").Inc()
		if err := r.store.RecordHit(ctx, typ, key, r.now()); err != nil {
			log.WithError(err).Debug("Failed to record cache hit")
		}
		if entry.IsStale(r.now(), r.staleAfter) {
			r.revalidateAsync(entry)
		}
		return entry.Identifier, true
	}

	if r.remote == nil {
		metrics.ResolverLookups.WithLabelValues(string(typ), "miss").Inc()
		return "", false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.lookupTimeout)
	defer cancel()

	id, err := r.remote.Lookup(lookupCtx, typ, remoteKey(typ, key))
	if err != nil {
		// No negative caching: the next call retries the lookup
		log.WithError(err).Warn("Remote identifier lookup failed")
		metrics.ResolverRemoteFailures.WithLabelValues(string(typ)).Inc()
		metrics.ResolverLookups.WithLabelValues(string(typ), "miss").Inc()
		return "", false
	}

	now := r.now()
	if err := r.store.Put(ctx, model.IdentifierCacheEntry{
		Type:            typ,
		Key:             key,
		Identifier:      id,
		Source:          model.SourceRemote,
		QueryCount:      1,
		CreatedAt:       now,
		LastQueriedAt:   now,
		LastValidatedAt: now,
	}); err != nil {
		log.WithError(err).Warn("Identifier cache write failed")
	}

	metrics.ResolverLookups.WithLabelValues(string(typ), "remote").Inc()
	log.WithField("identifier", id).Debug("Resolved identifier remotely")
	return id, true
}

// revalidateAsync refreshes a stale entry in the background. At most one
// revalidation per (type, key) runs at a time.
func (r *Resolver) revalidateAsync(entry model.IdentifierCacheEntry) {
	if r.remote == nil || !r.claim(entry) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(entry)

		ctx, cancel := context.WithTimeout(context.Background(), r.lookupTimeout)
		defer cancel()
		_, _ = r.revalidate(ctx, entry)
	}()
}

// revalidate re-runs the remote lookup for an entry and writes back the
// result. It reports whether the identifier changed.
func (r *Resolver) revalidate(ctx context.Context, entry model.IdentifierCacheEntry) (bool, error) {
	log := r.logger.WithFields(logrus.Fields{"type": entry.Type, "key": entry.Key})

	id, err := r.remote.Lookup(ctx, entry.Type, remoteKey(entry.Type, entry.Key))
	if err != nil {
		metrics.ResolverRevalidations.WithLabelValues("failed").Inc()
		log.WithError(err).Warn("Revalidation lookup failed, keeping cached identifier")
		return false, err
	}

	changed := id != entry.Identifier
	if changed {
		log.WithFields(logrus.Fields{"old": entry.Identifier, "new": id}).Info("Cached identifier changed remotely")
		entry.Identifier = id
		metrics.ResolverRevalidations.WithLabelValues("changed").Inc()
	} else {
		metrics.ResolverRevalidations.WithLabelValues("unchanged").Inc()
	}
	entry.LastValidatedAt = r.now()

	if err := r.store.Put(ctx, entry); err != nil {
		log.WithError(err).Warn("Identifier cache write failed")
		return changed, err
	}
	return changed, nil
}

func (r *Resolver) claim(entry model.IdentifierCacheEntry) bool {
	k := cache.EntryKey(entry.Type, entry.Key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[k]; busy {
		return false
	}
	r.inflight[k] = struct{}{}
	return true
}

func (r *Resolver) release(entry model.IdentifierCacheEntry) {
	r.mu.Lock()
	delete(r.inflight, cache.EntryKey(entry.Type, entry.Key))
	r.mu.Unlock()
}

// Wait blocks until background revalidations have finished
func (r *Resolver) Wait() {
	r.wg.Wait()
}
