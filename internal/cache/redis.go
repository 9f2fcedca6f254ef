// Package cache holds the Redis-backed availability cache used by the
// reservation ledger's read path.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// AvailabilityCache stores IsAvailable answers in one hash per vehicle, field
// "start:end". Any claim or release on the vehicle deletes the whole hash and
// bumps the vehicle's generation; an answer read under an older generation is
// never written back.
type AvailabilityCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
}

func NewAvailabilityCache(client redis.Cmdable, ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &AvailabilityCache{client: client, ttl: ttl}
}

func (c *AvailabilityCache) Get(ctx context.Context, vehicleID string, start, end time.Time) (bool, bool, error) {
	val, err := c.client.HGet(ctx, vehicleKey(vehicleID), rangeField(start, end)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, false, nil
		}
		return false, false, err
	}
	return val == "1", true, nil
}

// setIfCurrent writes the field only while the generation key still holds the
// generation the answer was read under. A missing key counts as 0.
var setIfCurrent = redis.NewScript(`
local gen = tonumber(redis.call('GET', KEYS[2]) or '0')
if gen ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// Generation returns the vehicle's invalidation counter. Read it before
// computing an answer and pass it to Set.
func (c *AvailabilityCache) Generation(ctx context.Context, vehicleID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(vehicleID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return gen, nil
}

// Set caches the answer unless the vehicle was invalidated after gen was read.
func (c *AvailabilityCache) Set(ctx context.Context, vehicleID string, start, end time.Time, available bool, gen int64) error {
	val := "0"
	if available {
		val = "1"
	}
	keys := []string{vehicleKey(vehicleID), generationKey(vehicleID)}
	return setIfCurrent.Run(ctx, c.client, keys, gen, rangeField(start, end), val, c.ttl.Milliseconds()).Err()
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, vehicleID string) error {
	if err := c.client.Incr(ctx, generationKey(vehicleID)).Err(); err != nil {
		return err
	}
	return c.client.Del(ctx, vehicleKey(vehicleID)).Err()
}

func vehicleKey(vehicleID string) string {
	return fmt.Sprintf("availability:vehicle:%s", vehicleID)
}

func generationKey(vehicleID string) string {
	return fmt.Sprintf("availability:vehicle:%s:gen", vehicleID)
}

func rangeField(start, end time.Time) string {
	return start.Format(time.DateOnly) + ":" + end.Format(time.DateOnly)
}
