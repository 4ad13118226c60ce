package returns

import (
	"context"
	"sync"

	"github.com/aristath/allocator/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Source loads return datasets by name.
type Source interface {
	Load(ctx context.Context, name string) (domain.ReturnSeries, error)
}

// Cache keeps loaded datasets in memory. Concurrent loads of the same dataset share one
// database read.
type Cache struct {
	store   *Store
	mu      sync.RWMutex
	entries map[string]domain.ReturnSeries
	group   singleflight.Group
	log     zerolog.Logger
}

// NewCache creates an empty cache over store.
func NewCache(store *Store, log zerolog.Logger) *Cache {
	return &Cache{
		store:   store,
		entries: make(map[string]domain.ReturnSeries),
		log:     log.With().Str("component", "returns_cache").Logger(),
	}
}

// Load returns the dataset, reading it from the store on a miss.
func (c *Cache) Load(ctx context.Context, name string) (domain.ReturnSeries, error) {
	c.mu.RLock()
	series, ok := c.entries[name]
	c.mu.RUnlock()
	if ok {
		return series, nil
	}

	v, err, shared := c.group.Do(name, func() (interface{}, error) {
		series, err := c.store.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[name] = series
		c.mu.Unlock()
		return series, nil
	})
	if err != nil {
		return domain.ReturnSeries{}, err
	}
	c.log.Debug().Str("dataset", name).Bool("shared", shared).Msg("Loaded dataset into cache")
	return v.(domain.ReturnSeries), nil
}

// Save stores the dataset and refreshes the cached copy.
func (c *Cache) Save(ctx context.Context, name string, series domain.ReturnSeries) (Dataset, error) {
	ds, err := c.store.Save(ctx, name, series)
	if err != nil {
		return Dataset{}, err
	}
	c.mu.Lock()
	c.entries[name] = series
	c.mu.Unlock()
	return ds, nil
}

// Delete removes the dataset from the store and the cache.
func (c *Cache) Delete(ctx context.Context, name string) error {
	c.Invalidate(name)
	return c.store.Delete(ctx, name)
}

// List passes through to the store.
func (c *Cache) List(ctx context.Context) ([]Dataset, error) {
	return c.store.List(ctx)
}

// Describe passes through to the store.
func (c *Cache) Describe(ctx context.Context, name string) (Dataset, error) {
	return c.store.Describe(ctx, name)
}

// Invalidate drops a cached dataset.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
	c.group.Forget(name)
}
