package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

const (
	IdempotentKeyTTL = 24 * time.Hour
	// PendingTTL bounds how long an unfinished request holds its key. A crash
	// or a failed Complete frees the key once it lapses.
	PendingTTL = 30 * time.Second
	StockTTL   = time.Minute

	// pendingMarker holds an idempotent key while the first request is still running.
	pendingMarker = "pending"
)

func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})
}

func idempotentKey(key string) string {
	return fmt.Sprintf("idempotent-key:%s", key)
}

func stockKey(productID string) string {
	return fmt.Sprintf("product:%s", productID)
}

// IdempotencyGuard remembers which order an Idempotency-Key produced.
type IdempotencyGuard struct {
	rdb        *redis.Client
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewIdempotencyGuard(rdb *redis.Client) *IdempotencyGuard {
	return &IdempotencyGuard{rdb: rdb, ttl: IdempotentKeyTTL, pendingTTL: PendingTTL}
}

// Reserve claims key for a new request. When the key is already held it returns
// the order id recorded for it, or "" while the first request is in flight.
func (g *IdempotencyGuard) Reserve(ctx context.Context, key string) (string, bool, error) {
	redisKey := idempotentKey(key)
	ok, err := g.rdb.SetNX(ctx, redisKey, pendingMarker, g.pendingTTL).Result()
	if err != nil {
		logger.Error().Err(err).Msgf("Error reserving idempotent key %s", key)
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	val, err := g.rdb.Get(ctx, redisKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", false, err
	}
	if val == pendingMarker {
		val = ""
	}
	return val, false, nil
}

// Complete records orderID under key and extends it to the full TTL.
func (g *IdempotencyGuard) Complete(ctx context.Context, key, orderID string) error {
	return g.rdb.Set(ctx, idempotentKey(key), orderID, g.ttl).Err()
}

func (g *IdempotencyGuard) Release(ctx context.Context, key string) error {
	return g.rdb.Del(ctx, idempotentKey(key)).Err()
}

type stockEntry struct {
	ProductID string    `json:"product_id"`
	Stock     int       `json:"stock"`
	CachedAt  time.Time `json:"cached_at"`
}

// StockCache is a read-through copy of product quantities. Entries expire
// after StockTTL so a missed refresh event only leaves them stale briefly.
type StockCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStockCache(rdb *redis.Client) *StockCache {
	return &StockCache{rdb: rdb, ttl: StockTTL}
}

func (c *StockCache) Get(ctx context.Context, productID string) (int, bool, error) {
	raw, err := c.rdb.Get(ctx, stockKey(productID)).Result()
	if errors.Is(err, redis.Nil) {
		logger.Warn().Msgf("Stock for product %s not found in cache", productID)
		return 0, false, nil
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting stock for product %s from cache", productID)
		return 0, false, err
	}

	var entry stockEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		logger.Error().Err(err).Msgf("Error unmarshalling stock for product %s", productID)
		return 0, false, err
	}
	return entry.Stock, true, nil
}

func (c *StockCache) Set(ctx context.Context, productID string, stock int) error {
	raw, err := json.Marshal(stockEntry{ProductID: productID, Stock: stock, CachedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, stockKey(productID), raw, c.ttl).Err()
}
