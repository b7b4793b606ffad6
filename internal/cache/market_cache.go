package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trogers1052/nepse-sentiment/internal/config"
	"github.com/trogers1052/nepse-sentiment/internal/models"
)

const keyPrefix = "nepse:market"

// MarketCache is a read-through cache of market observations in Redis.
// Every cached value has a generation counter beside it. Change events bump
// the counter and drop the value; a reader may only store what it loaded if
// the counter it saw before loading is still current, so a slow reader can
// never put back an aggregate that was changed or withdrawn meanwhile.
type MarketCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMarketCache connects to Redis and verifies the connection
func NewMarketCache(ctx context.Context, cfg config.RedisConfig) (*MarketCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &MarketCache{rdb: rdb, ttl: cfg.TTL}, nil
}

func dateKey(date time.Time) string {
	return keyPrefix + ":" + models.DateKey(date)
}

func listKey() string {
	return keyPrefix + ":list"
}

func genKey(key string) string {
	return key + ":gen"
}

// Get returns the cached observation for date
func (c *MarketCache) Get(ctx context.Context, date time.Time) (*models.MarketObservation, bool, error) {
	var m models.MarketObservation
	ok, err := c.get(ctx, dateKey(date), &m)
	if !ok || err != nil {
		return nil, false, err
	}
	return &m, true, nil
}

// Generation returns the current generation for date. Read it before
// loading from the database and hand it to Set.
func (c *MarketCache) Generation(ctx context.Context, date time.Time) (int64, error) {
	return c.generation(ctx, dateKey(date))
}

// Set caches the observation for its date unless the date was invalidated
// after gen was read.
func (c *MarketCache) Set(ctx context.Context, m *models.MarketObservation, gen int64) error {
	return c.setAt(ctx, dateKey(m.Date), gen, m)
}

// GetList returns the cached market listing
func (c *MarketCache) GetList(ctx context.Context) ([]*models.MarketObservation, bool, error) {
	var ms []*models.MarketObservation
	ok, err := c.get(ctx, listKey(), &ms)
	if !ok || err != nil {
		return nil, false, err
	}
	return ms, true, nil
}

// ListGeneration returns the current generation of the market listing
func (c *MarketCache) ListGeneration(ctx context.Context) (int64, error) {
	return c.generation(ctx, listKey())
}

// SetList caches the market listing unless it was invalidated after gen was read
func (c *MarketCache) SetList(ctx context.Context, ms []*models.MarketObservation, gen int64) error {
	return c.setAt(ctx, listKey(), gen, ms)
}

// Invalidate drops the entry for date and the listing and bumps both
// generations in one transaction.
func (c *MarketCache) Invalidate(ctx context.Context, date time.Time) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, key := range []string{dateKey(date), listKey()} {
			pipe.Incr(ctx, genKey(key))
			pipe.Del(ctx, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to invalidate market cache: %w", err)
	}
	return nil
}

// Publish invalidates on market change events; sector events are ignored
// since any market effect arrives as its own event.
func (c *MarketCache) Publish(ctx context.Context, event models.ChangeEvent) error {
	switch event.EventType {
	case models.EventMarketComputed, models.EventMarketFinalized, models.EventMarketWithdrawn:
		return c.Invalidate(ctx, event.Date)
	}
	return nil
}

// Close closes the Redis client
func (c *MarketCache) Close() error {
	return c.rdb.Close()
}

func (c *MarketCache) get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read market cache: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache unmarshal failed: %w", err)
	}
	return true, nil
}

func (c *MarketCache) generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.rdb.Get(ctx, genKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cache generation: %w", err)
	}
	return gen, nil
}

var errStaleGeneration = errors.New("cache generation moved")

// setAt writes value under key only while key's generation still equals gen.
// WATCH aborts the write if an invalidation lands between the check and EXEC.
func (c *MarketCache) setAt(ctx context.Context, key string, gen int64, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache marshal failed: %w", err)
	}

	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey(key)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey(key))

	switch {
	case err == nil, errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return nil
	default:
		return fmt.Errorf("failed to write market cache: %w", err)
	}
}
