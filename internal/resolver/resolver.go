package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"statusfeed/internal/metrics"
)

// Directory is the external identity-resolution collaborator. Partial
// results are allowed: ids missing from the mapping simply were not
// resolved.
type Directory interface {
	Lookup(ctx context.Context, ids []string) (map[string]string, error)
}

type Config struct {
	TTL     time.Duration
	Timeout time.Duration
}

func (c *Config) withDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
}

type cacheEntry struct {
	name      string
	fetchedAt time.Time
}

// Resolver maps opaque tenant ids to display names through a time-bounded
// cache. Resolution never fails the caller: a stale entry is served when a
// refetch fails, and an id with no cached name at all falls back to itself.
type Resolver struct {
	cfg Config
	dir Directory
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func New(cfg Config, dir Directory, log *slog.Logger) *Resolver {
	cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		cfg:     cfg,
		dir:     dir,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		entries: map[string]cacheEntry{},
	}
}

// Resolve maps each id to a display name. Fresh cache entries are served
// directly; the rest are batched into a single time-bounded directory
// lookup.
func (r *Resolver) Resolve(ctx context.Context, ids []string) map[string]string {
	out := make(map[string]string, len(ids))
	var misses []string
	queued := map[string]bool{}

	now := r.now()
	r.mu.Lock()
	for _, id := range ids {
		if _, seen := out[id]; seen || queued[id] {
			continue
		}
		entry, ok := r.entries[id]
		if ok && now.Sub(entry.fetchedAt) < r.cfg.TTL {
			out[id] = entry.name
			metrics.ResolverHits.Inc()
			continue
		}
		misses = append(misses, id)
		queued[id] = true
		metrics.ResolverMisses.Inc()
	}
	r.mu.Unlock()

	if len(misses) == 0 {
		return out
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	resolved, err := r.dir.Lookup(lookupCtx, misses)
	if err != nil {
		r.log.Warn("directory lookup failed, serving fallbacks", "ids", len(misses), "err", err)
		resolved = nil
	}

	fetchedAt := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range misses {
		if name, ok := resolved[id]; ok && name != "" {
			r.entries[id] = cacheEntry{name: name, fetchedAt: fetchedAt}
			out[id] = name
			continue
		}
		// stale-if-error, then identity
		if entry, ok := r.entries[id]; ok {
			out[id] = entry.name
		} else {
			out[id] = id
		}
		metrics.ResolverFallbacks.Inc()
	}
	return out
}
