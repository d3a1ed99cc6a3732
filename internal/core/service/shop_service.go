package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hmdp/seckill/internal/cache"
	"github.com/hmdp/seckill/internal/core/domain"
	"github.com/hmdp/seckill/internal/port"
)

var ErrShopNotFound = errors.New("shop not found")

const (
	shopCacheKeyPrefix = "cache:shop:"
	shopCacheTTL       = 30 * time.Minute
	shopNullTTL        = 2 * time.Minute
)

// ShopStrategy selects how shop reads survive mass expiry.
type ShopStrategy int

const (
	// ShopLogicalExpire serves possibly-stale values and rebuilds in the
	// background. Requires warm-up; an unwarmed shop reads as absent.
	ShopLogicalExpire ShopStrategy = iota
	// ShopMutex blocks contenders while one of them rebuilds.
	ShopMutex
)

type ShopService struct {
	shops    port.ShopRepository
	cache    *cache.Client
	strategy ShopStrategy
}

func NewShopService(shops port.ShopRepository, cacheClient *cache.Client, strategy ShopStrategy) *ShopService {
	return &ShopService{shops: shops, cache: cacheClient, strategy: strategy}
}

func (s *ShopService) GetShopByID(ctx context.Context, id int64) (*domain.Shop, error) {
	key := strconv.FormatInt(id, 10)

	var shop *domain.Shop
	var err error
	switch s.strategy {
	case ShopMutex:
		shop, err = cache.QueryWithMutex(ctx, s.cache, shopCacheKeyPrefix, key, s.loadShop, shopNullTTL, shopCacheTTL)
	default:
		shop, err = cache.QueryLogicalExpire(ctx, s.cache, shopCacheKeyPrefix, key, s.loadShop, shopCacheTTL)
	}
	if err != nil {
		return nil, err
	}
	if shop == nil {
		return nil, ErrShopNotFound
	}
	return shop, nil
}

// UpdateShop writes the source record first and then invalidates the
// cache entry, the cache-aside update order.
func (s *ShopService) UpdateShop(ctx context.Context, shop domain.Shop) error {
	if shop.ID == 0 {
		return fmt.Errorf("shop id required")
	}
	if err := s.shops.UpdateShop(ctx, shop); err != nil {
		return fmt.Errorf("update shop: %w", err)
	}
	if err := s.cache.Delete(ctx, shopCacheKeyPrefix+strconv.FormatInt(shop.ID, 10)); err != nil {
		return fmt.Errorf("invalidate shop cache: %w", err)
	}
	return nil
}

// WarmUpShop preloads a hot shop with a logical expiry so the
// logical-expire read path has something to serve.
func (s *ShopService) WarmUpShop(ctx context.Context, id int64, ttl time.Duration) error {
	shop, err := s.shops.GetShop(ctx, id)
	if err != nil {
		return fmt.Errorf("load shop %d: %w", id, err)
	}
	if shop == nil {
		return ErrShopNotFound
	}
	return s.cache.SetLogicalExpire(ctx, shopCacheKeyPrefix+strconv.FormatInt(id, 10), shop, ttl)
}

func (s *ShopService) loadShop(ctx context.Context, id string) (*domain.Shop, error) {
	shopID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad shop id %q: %w", id, err)
	}
	return s.shops.GetShop(ctx, shopID)
}
