package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// DayCache stores one historical reference price per UTC day.
type DayCache interface {
	Get(ctx context.Context, day string) (decimal.Decimal, bool, error)
	Set(ctx context.Context, day string, price decimal.Decimal) error
}

// MemoryCache keeps day prices for the lifetime of the process.
type MemoryCache struct {
	days *xsync.Map[string, decimal.Decimal]
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{days: xsync.NewMap[string, decimal.Decimal]()}
}

func (c *MemoryCache) Get(_ context.Context, day string) (decimal.Decimal, bool, error) {
	price, ok := c.days.Load(day)
	return price, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, day string, price decimal.Decimal) error {
	c.days.Store(day, price)
	return nil
}

// RedisCache shares day prices between processes. Historical prices never
// change, so entries only expire when ttl is positive.
type RedisCache struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(rdb *goredis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "dexhistory:price:"
	}
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, day string) (decimal.Decimal, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+day).Result()
	if errors.Is(err, goredis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis get %s: %w", day, err)
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("redis price %s: %w", day, err)
	}
	return price, true, nil
}

func (c *RedisCache) Set(ctx context.Context, day string, price decimal.Decimal) error {
	if err := c.rdb.Set(ctx, c.prefix+day, price.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", day, err)
	}
	return nil
}

// NewRedisClient connects and pings a Redis server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}
