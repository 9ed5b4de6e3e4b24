package repository

import (
	"context"
	"time"

	"market-booking/internal/domain/merchant"
	"market-booking/internal/redis"
	"market-booking/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// cachedMerchantDirectory is a read-through Redis cache in front of another
// directory. Cache failures fall back to the source and are only logged.
type cachedMerchantDirectory struct {
	source MerchantDirectory
	cache  *redis.CacheStore
	logger *logger.Logger
}

func NewCachedMerchantDirectory(source MerchantDirectory, cache *redis.CacheStore, l *logger.Logger) MerchantDirectory {
	return &cachedMerchantDirectory{source: source, cache: cache, logger: l}
}

func (d *cachedMerchantDirectory) warn(msg string, merchantID uuid.UUID, err error) {
	d.logger.Logger.Warn(msg, zap.String("merchant_id", merchantID.String()), zap.Error(err))
}

func (d *cachedMerchantDirectory) GetMerchant(ctx context.Context, id uuid.UUID) (merchant.Merchant, error) {
	cached, err := d.cache.GetMerchant(ctx, id)
	if err != nil {
		d.warn("merchant cache read failed", id, err)
	}
	if cached != nil {
		return *cached, nil
	}

	m, err := d.source.GetMerchant(ctx, id)
	if err != nil {
		return merchant.Merchant{}, err
	}
	if err := d.cache.SetMerchant(ctx, m); err != nil {
		d.warn("merchant cache write failed", id, err)
	}
	return m, nil
}

func (d *cachedMerchantDirectory) GetOperatingHours(ctx context.Context, merchantID uuid.UUID, weekday time.Weekday) (merchant.OperatingHours, error) {
	cached, err := d.cache.GetHours(ctx, merchantID, weekday)
	if err != nil {
		d.warn("hours cache read failed", merchantID, err)
	}
	if cached != nil {
		return *cached, nil
	}

	h, err := d.source.GetOperatingHours(ctx, merchantID, weekday)
	if err != nil {
		return merchant.OperatingHours{}, err
	}
	if err := d.cache.SetHours(ctx, h); err != nil {
		d.warn("hours cache write failed", merchantID, err)
	}
	return h, nil
}

func (d *cachedMerchantDirectory) GetMenuItems(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]merchant.MenuItem, error) {
	hits, misses, err := d.cache.GetMenuItems(ctx, merchantID, ids)
	if err != nil {
		d.warn("menu cache read failed", merchantID, err)
		hits, misses = map[uuid.UUID]merchant.MenuItem{}, ids
	}
	if len(misses) == 0 {
		return hits, nil
	}

	loaded, err := d.source.GetMenuItems(ctx, merchantID, misses)
	if err != nil {
		return nil, err
	}
	fresh := make([]merchant.MenuItem, 0, len(loaded))
	for id, item := range loaded {
		hits[id] = item
		fresh = append(fresh, item)
	}
	if err := d.cache.SetMenuItems(ctx, merchantID, fresh); err != nil {
		d.warn("menu cache write failed", merchantID, err)
	}
	return hits, nil
}
