package auction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BidCache holds the advisory minimum-next-bid per auction so obviously
// losing bids can be turned away before a write transaction is opened.
// The cache is never authoritative: a hit that would reject is always
// confirmed against the store first, so staleness can only cost an extra
// read, never a wrong rejection.
type BidCache interface {
	// MinimumNext returns the cached bid floor, if one is known.
	MinimumNext(ctx context.Context, auctionID uuid.UUID) (int64, bool)
	// Record stores the floor after a committed bid.
	Record(ctx context.Context, auctionID uuid.UUID, minimumNext int64)
	// Reset drops the entry when the auction closes or restarts.
	Reset(ctx context.Context, auctionID uuid.UUID)
}

// MemCache is the in-process BidCache.
type MemCache struct {
	floors sync.Map // uuid.UUID -> int64
}

func NewMemCache() *MemCache { return &MemCache{} }

func (c *MemCache) MinimumNext(_ context.Context, auctionID uuid.UUID) (int64, bool) {
	v, ok := c.floors.Load(auctionID)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

func (c *MemCache) Record(_ context.Context, auctionID uuid.UUID, minimumNext int64) {
	// Keep the highest floor observed; concurrent recorders may land
	// out of commit order.
	for {
		v, loaded := c.floors.LoadOrStore(auctionID, minimumNext)
		if !loaded || v.(int64) >= minimumNext {
			return
		}
		if c.floors.CompareAndSwap(auctionID, v, minimumNext) {
			return
		}
	}
}

func (c *MemCache) Reset(_ context.Context, auctionID uuid.UUID) {
	c.floors.Delete(auctionID)
}

// RedisCache shares the bid floor across instances.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) key(auctionID uuid.UUID) string {
	return fmt.Sprintf("auction:minnext:%s", auctionID)
}

func (c *RedisCache) MinimumNext(ctx context.Context, auctionID uuid.UUID) (int64, bool) {
	v, err := c.client.Get(ctx, c.key(auctionID)).Int64()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (c *RedisCache) Record(ctx context.Context, auctionID uuid.UUID, minimumNext int64) {
	// Advisory only, so a failed write is dropped rather than surfaced.
	_ = c.client.Set(ctx, c.key(auctionID), minimumNext, c.ttl).Err()
}

func (c *RedisCache) Reset(ctx context.Context, auctionID uuid.UUID) {
	_ = c.client.Del(ctx, c.key(auctionID)).Err()
}
