// Package chart serves time-bucketed occurrence counts for a project or a
// single error group. The primary source is the Redis time-series cache;
// when it fails, counts are rebuilt from the daily rollups.
package chart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/codex-team/hawk.events/internal/cache"
)

// ErrInvalidBucket rejects non-positive bucket sizes before they reach
// the bucket arithmetic, where zero divides and a negative step would
// never terminate the fill loop.
var ErrInvalidBucket = errors.New("chart: bucket must be at least one minute")

// DailyCounter is the durable-storage fallback: occurrence sums per
// grouping day. *store.ProjectStore implements it.
type DailyCounter interface {
	DailyCounts(ctx context.Context, groupHash string, since, until int64) (map[int64]int64, error)
}

// Reader builds chart series.
type Reader struct {
	cache *cache.Cache
}

// NewReader creates a chart Reader over the time-series cache.
func NewReader(c *cache.Cache) *Reader {
	return &Reader{cache: c}
}

// Params describes one chart request. Timestamps are epoch seconds;
// TimezoneOffset is in minutes, with getTimezoneOffset semantics (positive
// means behind UTC).
type Params struct {
	Since          int64
	Until          int64
	BucketMinutes  int
	TimezoneOffset int
}

// ProjectSeries returns per-bucket counts of accepted events across a
// whole project.
func (r *Reader) ProjectSeries(ctx context.Context, projectID string, fallback DailyCounter, p Params) ([]cache.Point, error) {
	granularity := cache.GranularityFor(p.BucketMinutes)
	key := cache.ProjectSeriesKey(cache.DefaultMetricType, projectID, granularity)
	return r.series(ctx, key, fallback, "", p)
}

// GroupSeries returns per-bucket counts for one error group.
func (r *Reader) GroupSeries(ctx context.Context, groupHash string, fallback DailyCounter, p Params) ([]cache.Point, error) {
	granularity := cache.GranularityFor(p.BucketMinutes)
	key := cache.GroupSeriesKey(groupHash, granularity)
	return r.series(ctx, key, fallback, groupHash, p)
}

func (r *Reader) series(ctx context.Context, key string, fallback DailyCounter, groupHash string, p Params) ([]cache.Point, error) {
	if p.BucketMinutes < 1 {
		return nil, ErrInvalidBucket
	}
	bucket := time.Duration(p.BucketMinutes) * time.Minute

	points, err := r.cache.Range(ctx, key, p.Since, p.Until, bucket)
	if err != nil {
		// A missing key already came back as an empty slice; anything else
		// means the cache is unhealthy and the rollups are authoritative.
		slog.Warn("time-series cache read failed, falling back to rollups",
			"key", key, "error", err)
		counts, fbErr := fallback.DailyCounts(ctx, groupHash, p.Since, p.Until)
		if fbErr != nil {
			return nil, fbErr
		}
		points = rebucket(counts, int64(bucket/time.Second))
	}

	return ZeroFill(points, p.Since, p.Until, int64(bucket/time.Second), p.TimezoneOffset), nil
}

// ZeroFill expands sparse samples into one point per bucket boundary from
// floor(since/bucket)*bucket through until inclusive, substituting zero
// for absent buckets, shifting each output timestamp by the caller's
// timezone offset, sorted ascending. A non-positive bucket yields nil.
func ZeroFill(points []cache.Point, since, until, bucketSeconds int64, timezoneOffsetMinutes int) []cache.Point {
	if bucketSeconds < 1 {
		return nil
	}
	counts := make(map[int64]int64, len(points))
	for _, pt := range points {
		counts[pt.Timestamp] = pt.Count
	}

	shift := int64(timezoneOffsetMinutes) * 60
	filled := make([]cache.Point, 0, (until-since)/bucketSeconds+1)
	for ts := (since / bucketSeconds) * bucketSeconds; ts <= until; ts += bucketSeconds {
		filled = append(filled, cache.Point{
			Timestamp: ts - shift,
			Count:     counts[ts],
		})
	}
	return filled
}

// rebucket folds day-resolution rollup counts into the requested bucket
// grid. Rollups never resolve finer than a day, so sub-daily buckets get
// the whole day's count at the day boundary.
func rebucket(counts map[int64]int64, bucketSeconds int64) []cache.Point {
	folded := make(map[int64]int64, len(counts))
	for day, count := range counts {
		folded[(day/bucketSeconds)*bucketSeconds] += count
	}
	points := make([]cache.Point, 0, len(folded))
	for ts, count := range folded {
		points = append(points, cache.Point{Timestamp: ts, Count: count})
	}
	return points
}
