package client

import (
	"context"

	"github.com/good-food-maalsi/franchise-service/internal/cache"
	"github.com/good-food-maalsi/franchise-service/internal/models"
	"go.uber.org/zap"
)

// CachedCatalogClient is a read-through Redis cache in front of a Source.
// Only successful lookups are cached.
type CachedCatalogClient struct {
	source Source
	cache  *cache.RedisCache
	logger *zap.Logger
}

func NewCachedCatalogClient(source Source, c *cache.RedisCache, logger *zap.Logger) *CachedCatalogClient {
	return &CachedCatalogClient{
		source: source,
		cache:  c,
		logger: logger.With(zap.String("component", "catalog_cache")),
	}
}

// Cache key helpers
func dishKey(id string) string { return "catalog:dish:" + id }

func menuKey(id string) string { return "catalog:menu:" + id }

func itemKey(id string) string { return "catalog:item:" + id }

func (c *CachedCatalogClient) GetDish(ctx context.Context, id string) (*models.Dish, error) {
	return readThrough(ctx, c, dishKey(id), func() (*models.Dish, error) {
		return c.source.GetDish(ctx, id)
	})
}

func (c *CachedCatalogClient) GetMenu(ctx context.Context, id string) (*models.Menu, error) {
	return readThrough(ctx, c, menuKey(id), func() (*models.Menu, error) {
		return c.source.GetMenu(ctx, id)
	})
}

// ResolveItem caches the kind of id along with its content, so a cached menu
// skips the dish probe.
func (c *CachedCatalogClient) ResolveItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	return readThrough(ctx, c, itemKey(id), func() (*models.CatalogItem, error) {
		return ProbeItem(ctx, c, id)
	})
}

func readThrough[T any](ctx context.Context, c *CachedCatalogClient, key string, fetch func() (*T, error)) (*T, error) {
	var cached T
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		c.logger.Debug("📦 Cache HIT", zap.String("key", key))
		return &cached, nil
	}

	if !cache.IsMiss(err) {
		c.logger.Warn("⚠️ Cache error", zap.String("key", key), zap.Error(err))
	}

	c.logger.Debug("💾 Cache MISS", zap.String("key", key))
	v, err := fetch()
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, v); err != nil {
		c.logger.Warn("⚠️ Failed to cache catalog lookup", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
