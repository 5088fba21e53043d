package products

import (
	"context"
	"strconv"

	"github.com/retailops/stockledger/internal/inventory"
	"github.com/retailops/stockledger/internal/platform/cache"
)

// CacheNamespace prefixes product cache keys in Redis.
const CacheNamespace = "stockledger:products"

// Catalog adapts product master data to inventory.ProductCatalog.
type Catalog struct {
	repo  Repository
	cache *cache.JSONCache
}

var _ inventory.ProductCatalog = (*Catalog)(nil)

// NewCatalog builds a Catalog. A nil cache reads through to the repository.
func NewCatalog(repo Repository, c *cache.JSONCache) *Catalog {
	return &Catalog{repo: repo, cache: c}
}

// ProductInfo returns display fields for productID. Missing products yield
// inventory.ErrNotFound and are not cached.
func (c *Catalog) ProductInfo(ctx context.Context, productID int64) (inventory.ProductInfo, error) {
	key, err := c.cache.Key(ctx, "product", strconv.FormatInt(productID, 10))
	if err != nil {
		return inventory.ProductInfo{}, err
	}
	var info inventory.ProductInfo
	err = c.cache.FetchJSON(ctx, key, &info, func(ctx context.Context) (any, error) {
		return c.repo.Get(ctx, productID)
	})
	if err != nil {
		return inventory.ProductInfo{}, err
	}
	return info, nil
}

// Invalidate drops cached product entries after catalog edits.
func (c *Catalog) Invalidate(ctx context.Context) error {
	return c.cache.Bump(ctx)
}
