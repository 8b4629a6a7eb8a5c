package resolver

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is a cached resolution.
type Entry struct {
	Source     string    `yaml:"source"`
	Items      []Item    `yaml:"items"`
	ResolvedAt time.Time `yaml:"resolved-at"`
}

// Store persists cache entries across restarts.
type Store interface {
	LoadCache(key string) (Entry, bool)
	SaveCache(key string, e Entry) error
}

// Cache keeps the last resolution per key for ttl.
type Cache struct {
	resolver Resolver
	store    Store
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

func NewCache(r Resolver, store Store, ttl time.Duration, logger *slog.Logger) *Cache {
	return &Cache{
		resolver: r,
		store:    store,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		entries:  map[string]Entry{},
	}
}

// Resolve returns the cached entry for key when it is fresh and was
// produced from the same source. force always calls the resolver.
func (c *Cache) Resolve(ctx context.Context, key, source string, force bool) (Entry, error) {
	if !force {
		if e, ok := c.lookup(key); ok && e.Source == source && len(e.Items) > 0 && c.now().Sub(e.ResolvedAt) < c.ttl {
			return e, nil
		}
	}

	items, err := c.resolver.Resolve(ctx, source)
	if err != nil {
		return Entry{}, err
	}

	e := Entry{Source: source, Items: items, ResolvedAt: c.now()}

	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveCache(key, e); err != nil {
			c.logger.Warn("failed to persist resolver cache", "key", key, "err", err)
		}
	}
	return e, nil
}

// Forget drops the in-memory entry for key.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *Cache) lookup(key string) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return e, true
	}
	if c.store == nil {
		return Entry{}, false
	}
	return c.store.LoadCache(key)
}
