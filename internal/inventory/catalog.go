package inventory

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/yourorg/remediation-reconciler/internal/model"
)

// ItemSource is the uncached catalog.
type ItemSource interface {
	Item(ctx context.Context, code string) (model.ComplianceItem, error)
	Items(ctx context.Context) ([]model.ComplianceItem, error)
}

// CachedCatalog keeps recently used catalog items in memory. The catalog is
// read-only reference data, so entries never need invalidating while the
// process runs; misses are not cached.
type CachedCatalog struct {
	src   ItemSource
	cache *lru.Cache
}

func NewCachedCatalog(src ItemSource, size int) (*CachedCatalog, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}
	return &CachedCatalog{src: src, cache: cache}, nil
}

func (c *CachedCatalog) Item(ctx context.Context, code string) (model.ComplianceItem, error) {
	if v, ok := c.cache.Get(code); ok {
		return v.(model.ComplianceItem), nil
	}
	item, err := c.src.Item(ctx, code)
	if err != nil {
		return model.ComplianceItem{}, err
	}
	c.cache.Add(code, item)
	return item, nil
}

// Items always reads the source and refreshes the cache with the result.
func (c *CachedCatalog) Items(ctx context.Context) ([]model.ComplianceItem, error) {
	items, err := c.src.Items(ctx)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		c.cache.Add(it.Code, it)
	}
	return items, nil
}
