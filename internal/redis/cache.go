package redis

import (
	"context"
	"fmt"
	"time"

	"market-booking/internal/domain/merchant"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - merchant:{id}:profile - merchant contact
// - merchant:{id}:hours:{weekday} - operating window for one weekday
// - merchant:{id}:menu - hash of menu item id -> item json

// CacheStore handles caching of merchant directory data in Redis
type CacheStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, ttl time.Duration) *CacheStore {
	return &CacheStore{
		client: client,
		ttl:    ttl,
	}
}

func profileKey(id uuid.UUID) string { return fmt.Sprintf("merchant:%s:profile", id) }
func menuKey(id uuid.UUID) string    { return fmt.Sprintf("merchant:%s:menu", id) }
func hoursKey(id uuid.UUID, wd time.Weekday) string {
	return fmt.Sprintf("merchant:%s:hours:%d", id, int(wd))
}

func (c *CacheStore) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return false, nil // Cache miss
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

func (c *CacheStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// GetMerchant retrieves a merchant from cache
func (c *CacheStore) GetMerchant(ctx context.Context, id uuid.UUID) (*merchant.Merchant, error) {
	var m merchant.Merchant
	ok, err := c.getJSON(ctx, profileKey(id), &m)
	if !ok || err != nil {
		return nil, err
	}
	return &m, nil
}

// SetMerchant stores a merchant in cache
func (c *CacheStore) SetMerchant(ctx context.Context, m merchant.Merchant) error {
	return c.setJSON(ctx, profileKey(m.ID), m)
}

// GetHours retrieves one weekday's window from cache
func (c *CacheStore) GetHours(ctx context.Context, merchantID uuid.UUID, wd time.Weekday) (*merchant.OperatingHours, error) {
	var h merchant.OperatingHours
	ok, err := c.getJSON(ctx, hoursKey(merchantID, wd), &h)
	if !ok || err != nil {
		return nil, err
	}
	return &h, nil
}

// SetHours stores one weekday's window in cache
func (c *CacheStore) SetHours(ctx context.Context, h merchant.OperatingHours) error {
	return c.setJSON(ctx, hoursKey(h.MerchantID, h.Weekday), h)
}

// GetMenuItems returns cached items and the ids that missed.
func (c *CacheStore) GetMenuItems(ctx context.Context, merchantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]merchant.MenuItem, []uuid.UUID, error) {
	result := make(map[uuid.UUID]merchant.MenuItem)
	var misses []uuid.UUID
	if len(ids) == 0 {
		return result, misses, nil
	}

	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = id.String()
	}
	values, err := c.client.HMGet(ctx, menuKey(merchantID), fields...).Result()
	if err != nil {
		return nil, ids, err
	}

	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var item merchant.MenuItem
		if err := json.Unmarshal([]byte(s), &item); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		result[ids[i]] = item
	}
	return result, misses, nil
}

// SetMenuItems stores items in the merchant's menu hash and refreshes its TTL.
func (c *CacheStore) SetMenuItems(ctx context.Context, merchantID uuid.UUID, items []merchant.MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	values := make([]any, 0, len(items)*2)
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		values = append(values, item.ID.String(), data)
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, menuKey(merchantID), values...)
	pipe.Expire(ctx, menuKey(merchantID), c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// InvalidateMerchant removes every cached entry for a merchant
func (c *CacheStore) InvalidateMerchant(ctx context.Context, merchantID uuid.UUID) error {
	keys := []string{profileKey(merchantID), menuKey(merchantID)}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		keys = append(keys, hoursKey(merchantID, wd))
	}
	return c.client.Del(ctx, keys...).Err()
}
