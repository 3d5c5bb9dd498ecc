package lots

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// PickOrderCache is a short-TTL read-side cache for FEFO pick lists. It sits
// in front of Service.PickOrder for display endpoints only; posting always
// reads the ledger directly. Concurrent misses for the same key collapse to a
// single loader call.
type PickOrderCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewPickOrderCache instantiates the cache helper.
func NewPickOrderCache(client *redis.Client, ttl time.Duration) *PickOrderCache {
	return &PickOrderCache{client: client, ttl: ttl}
}

func pickOrderKey(tenantID, productID, locationID int64) string {
	return fmt.Sprintf("lots:fefo:%d:%d:%d", tenantID, productID, locationID)
}

// Fetch loads the cached pick order or populates it using the loader.
func (c *PickOrderCache) Fetch(ctx context.Context, tenantID, productID, locationID int64, loader func(context.Context) ([]LotBalance, error)) ([]LotBalance, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := pickOrderKey(tenantID, productID, locationID)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var cached []LotBalance
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}
	value, err, _ := c.group.Do(key, func() (any, error) {
		fresh, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(fresh)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]LotBalance), nil
}

// Invalidate drops the cached pick order after a posting touches the key.
func (c *PickOrderCache) Invalidate(ctx context.Context, tenantID, productID, locationID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, pickOrderKey(tenantID, productID, locationID)).Err()
}
