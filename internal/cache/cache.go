// Package cache wraps the Redis layer: occurrence counters live in
// RedisTimeSeries keys written by the ingestion pipeline, and the same
// connection backs the API rate limiter.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Granularity labels the bucket width of a time-series key.
type Granularity string

const (
	Minutely Granularity = "minutely"
	Hourly   Granularity = "hourly"
	Daily    Granularity = "daily"
)

// GranularityFor picks the stored series to read for a requested bucket
// width in minutes. Unrecognized widths fall back to the finest series.
func GranularityFor(bucketMinutes int) Granularity {
	switch bucketMinutes {
	case 60:
		return Hourly
	case 1440:
		return Daily
	default:
		return Minutely
	}
}

// Point is one aggregated time-series sample. Timestamp is in epoch
// seconds.
type Point struct {
	Timestamp int64 `json:"timestamp"`
	Count     int64 `json:"count"`
}

// Cache is a Redis handle. Safe for concurrent use.
type Cache struct {
	client *redis.Client
}

// New creates a Cache from a Redis URL.
func New(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &Cache{client: redis.NewClient(opts)}, nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}

// Range reads sum-aggregated samples from a time-series key between since
// and until (epoch seconds), bucketed by the given width. A key that does
// not exist yet means "no data", not an error: the result is simply empty.
// Any other error propagates so the caller can fall back to durable
// storage.
func (c *Cache) Range(ctx context.Context, key string, since, until int64, bucket time.Duration) ([]Point, error) {
	opts := &redis.TSRangeOptions{
		Aggregator:     redis.Sum,
		BucketDuration: int(bucket.Milliseconds()),
	}
	samples, err := c.client.TSRangeWithArgs(ctx, key,
		int(since*1000), int(until*1000), opts).Result()
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil
		}
		return nil, err
	}

	points := make([]Point, 0, len(samples))
	for _, sample := range samples {
		points = append(points, Point{
			Timestamp: sample.Timestamp / 1000,
			Count:     int64(sample.Value),
		})
	}
	return points, nil
}

// IncrWithExpiry atomically increments a counter and refreshes its TTL.
func (c *Cache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// isNoSuchKey matches the RedisTimeSeries error for a missing key.
func isNoSuchKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key does not exist")
}
