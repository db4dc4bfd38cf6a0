package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// scanBatch is the COUNT hint used when sweeping per-number entries.
const scanBatch = 500

// Cache holds the read models behind the public endpoints: the board and the
// status of single numbers. Entries are JSON with a short TTL and every
// ticket transition deletes the entries it affects.
type Cache struct {
	rdb   *redis.Client
	loads singleflight.Group
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// GetOrSetJSON serves key from Redis or fills it from load.
//
// Concurrent misses on one key share a single load, so a burst of board
// requests after a sale costs one store query. Redis being unreachable or an
// entry that no longer decodes both count as a miss: the read model is
// rebuilt from the store rather than failing the request.
func GetOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	load func(ctx context.Context) (T, error),
) (T, error) {
	if v, ok := readEntry[T](ctx, c.rdb, key); ok {
		return v, nil
	}

	shared, err, _ := c.loads.Do(key, func() (any, error) {
		// another caller may have filled it while we queued
		if v, ok := readEntry[T](ctx, c.rdb, key); ok {
			return v, nil
		}

		fresh, err := load(ctx)
		if err != nil {
			return nil, err
		}

		// a lost write only costs the next reader a reload
		_ = writeEntry(ctx, c.rdb, key, fresh, ttl)

		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	v, ok := shared.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("redis.GetOrSetJSON: %s holds %T", key, shared)
	}

	return v, nil
}

func readEntry[T any](ctx context.Context, rdb *redis.Client, key string) (T, bool) {
	var v T

	raw, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}

	return v, true
}

func writeEntry(ctx context.Context, rdb *redis.Client, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}

	return rdb.Set(ctx, key, string(raw), ttl).Err()
}

// InvalidateTicket drops the board and the status entry of number after it
// changed state.
func (c *Cache) InvalidateTicket(ctx context.Context, number string) error {
	return c.rdb.Del(ctx, KeyBoard(), KeyTicketStatus(number)).Err()
}

// InvalidatePool drops every read model after the pool was replaced: the
// status entry of each number and the board. The board goes last so a reader
// never rebuilds it from statuses that are about to vanish.
func (c *Cache) InvalidatePool(ctx context.Context) error {
	const op = "redis.Cache.InvalidatePool"

	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, KeyTicketStatus("*"), scanBatch).Result()
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%s:%w", op, err)
			}
		}

		if next == 0 {
			break
		}
		cursor = next
	}

	if err := c.rdb.Del(ctx, KeyBoard()).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}
