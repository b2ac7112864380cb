package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/graph"
)

// FragmentCache is a read-through Ristretto cache in front of a
// FragmentStore. Chain walking resolves the same fragments repeatedly;
// this keeps those point lookups off the disk store. Query-shaped reads
// pass through uncached.
type FragmentCache struct {
	inner  FragmentStore
	cache  *ristretto.Cache[string, *graph.Fragment]
	ttl    time.Duration
	logger *zap.Logger
}

// NewFragmentCache wraps inner with a bounded cache of maxEntries items.
func NewFragmentCache(inner FragmentStore, maxEntries int64, ttl time.Duration, logger *zap.Logger) (*FragmentCache, error) {
	if maxEntries == 0 {
		maxEntries = 10000
	}
	if ttl == 0 {
		ttl = 5 * time.Minute
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, *graph.Fragment]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	return &FragmentCache{
		inner:  inner,
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("fragcache"),
	}, nil
}

// Close releases cache resources.
func (c *FragmentCache) Close() {
	c.cache.Close()
}

func (c *FragmentCache) GetFragment(ctx context.Context, id uuid.UUID) (*graph.Fragment, error) {
	key := id.String()
	if f, ok := c.cache.Get(key); ok {
		cp := *f
		return &cp, nil
	}

	f, err := c.inner.GetFragment(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, f, 1, c.ttl)
	cp := *f
	return &cp, nil
}

func (c *FragmentCache) PutFragment(ctx context.Context, f *graph.Fragment) error {
	if err := c.inner.PutFragment(ctx, f); err != nil {
		return err
	}
	c.cache.Del(f.ID.String())
	return nil
}

func (c *FragmentCache) SetEmbedding(ctx context.Context, id uuid.UUID, vec []float32) error {
	if err := c.inner.SetEmbedding(ctx, id, vec); err != nil {
		return err
	}
	c.cache.Del(id.String())
	return nil
}

func (c *FragmentCache) MarkFragmentProcessed(ctx context.Context, id uuid.UUID) error {
	if err := c.inner.MarkFragmentProcessed(ctx, id); err != nil {
		return err
	}
	c.cache.Del(id.String())
	return nil
}

func (c *FragmentCache) ListFragments(ctx context.Context, q FragmentQuery) ([]*graph.Fragment, error) {
	return c.inner.ListFragments(ctx, q)
}

func (c *FragmentCache) RecentSessions(ctx context.Context, ownerID uuid.UUID, after time.Time, max int) ([]uuid.UUID, error) {
	return c.inner.RecentSessions(ctx, ownerID, after, max)
}

// cachedStore routes fragment reads through the cache while edge and
// reflection access hits the inner store directly.
type cachedStore struct {
	*FragmentCache
	EdgeStore
	ReflectionStore
}

// WithFragmentCache wraps a full store with a fragment read cache.
func WithFragmentCache(inner Store, maxEntries int64, ttl time.Duration, logger *zap.Logger) (Store, *FragmentCache, error) {
	cache, err := NewFragmentCache(inner, maxEntries, ttl, logger)
	if err != nil {
		return nil, nil, err
	}
	return &cachedStore{
		FragmentCache:   cache,
		EdgeStore:       inner,
		ReflectionStore: inner,
	}, cache, nil
}
