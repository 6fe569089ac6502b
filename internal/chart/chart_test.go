package chart

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codex-team/hawk.events/internal/cache"
)

func TestZeroFill_HourlyWindowBoundaryInclusive(t *testing.T) {
	// A 3-hour window aligned to the hour covers both endpoints: four
	// boundaries, 3600s apart.
	since := int64(1_700_000_000 - 1_700_000_000%3600)
	until := since + 3*3600

	got := ZeroFill(nil, since, until, 3600, 0)

	require.Len(t, got, 4)
	for i, pt := range got {
		assert.Equal(t, since+int64(i)*3600, pt.Timestamp, "point %d", i)
		assert.Equal(t, int64(0), pt.Count, "point %d", i)
	}
}

func TestZeroFill_UnalignedWindowStartsAtFloor(t *testing.T) {
	// since falls mid-hour; the grid starts at the enclosing bucket
	// boundary, so a 3-hour span still yields either 3 or 4 points.
	base := int64(1_700_000_000 - 1_700_000_000%3600)
	since := base + 1800
	until := since + 3*3600

	got := ZeroFill(nil, since, until, 3600, 0)

	require.Len(t, got, 4)
	assert.Equal(t, base, got[0].Timestamp)
	assert.Equal(t, base+3*3600, got[3].Timestamp)
}

func TestZeroFill_KeepsCountsAndFillsGaps(t *testing.T) {
	points := []cache.Point{
		{Timestamp: 7200, Count: 5},
		{Timestamp: 0, Count: 2},
	}

	got := ZeroFill(points, 0, 10800, 3600, 0)

	assert.Equal(t, []cache.Point{
		{Timestamp: 0, Count: 2},
		{Timestamp: 3600, Count: 0},
		{Timestamp: 7200, Count: 5},
		{Timestamp: 10800, Count: 0},
	}, got)
}

func TestZeroFill_TimezoneOffsetShiftsOutput(t *testing.T) {
	// getTimezoneOffset semantics: UTC-3 reports +180. The bucket lookup
	// stays in UTC; only the emitted timestamps shift.
	points := []cache.Point{{Timestamp: 3600, Count: 7}}

	got := ZeroFill(points, 3600, 7200, 3600, 180)

	assert.Equal(t, []cache.Point{
		{Timestamp: 3600 - 180*60, Count: 7},
		{Timestamp: 7200 - 180*60, Count: 0},
	}, got)
}

func TestZeroFill_NegativeOffsetShiftsForward(t *testing.T) {
	got := ZeroFill(nil, 0, 0, 60, -120)
	require.Len(t, got, 1)
	assert.Equal(t, int64(120*60), got[0].Timestamp)
}

func TestZeroFill_NonPositiveBucketYieldsNil(t *testing.T) {
	// A zero bucket would divide; a negative one would step the fill loop
	// backwards without ever passing until. Both yield nothing.
	assert.Nil(t, ZeroFill(nil, 1_700_000_000, 1_700_003_600, 0, 0))
	assert.Nil(t, ZeroFill(nil, 1_700_000_000, 1_700_003_600, -3600, 0))
}

func TestRebucket_FoldsDaysOntoGrid(t *testing.T) {
	day := int64(86400)
	counts := map[int64]int64{
		10 * day: 4,
		11 * day: 6,
	}

	// Daily buckets keep days distinct.
	points := rebucket(counts, day)
	folded := make(map[int64]int64, len(points))
	for _, pt := range points {
		folded[pt.Timestamp] = pt.Count
	}
	assert.Equal(t, map[int64]int64{10 * day: 4, 11 * day: 6}, folded)

	// A coarser grid folds both days into one bucket.
	points = rebucket(counts, 2*day)
	require.Len(t, points, 1)
	assert.Equal(t, cache.Point{Timestamp: 10 * day, Count: 10}, points[0])
}

// --- fallback path ---

type stubCounter struct {
	counts map[int64]int64
	err    error
	calls  int
}

func (s *stubCounter) DailyCounts(_ context.Context, _ string, _, _ int64) (map[int64]int64, error) {
	s.calls++
	return s.counts, s.err
}

func TestSeries_FallsBackWhenCacheUnavailable(t *testing.T) {
	// A reader without a reachable Redis behind it fails the range read
	// and must serve from the rollups instead.
	c, err := cache.New("redis://127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	day := int64(86400)
	counter := &stubCounter{counts: map[int64]int64{100 * day: 3}}

	r := NewReader(c)
	got, err := r.GroupSeries(context.Background(), "deadbeef", counter, Params{
		Since:         100 * day,
		Until:         100*day + day,
		BucketMinutes: 1440,
	})
	require.NoError(t, err)
	require.Equal(t, 1, counter.calls)

	require.Len(t, got, 2)
	assert.Equal(t, cache.Point{Timestamp: 100 * day, Count: 3}, got[0])
	assert.Equal(t, cache.Point{Timestamp: 100*day + day, Count: 0}, got[1])
}

func TestSeries_FallbackErrorPropagates(t *testing.T) {
	c, err := cache.New("redis://127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	wantErr := errors.New("rollups offline")
	r := NewReader(c)
	_, err = r.ProjectSeries(context.Background(), "p1", &stubCounter{err: wantErr}, Params{
		Since:         0,
		Until:         3600,
		BucketMinutes: 60,
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestSeries_RejectsNonPositiveBucket(t *testing.T) {
	c, err := cache.New("redis://127.0.0.1:1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	r := NewReader(c)
	counter := &stubCounter{}
	for _, bucket := range []int{0, -60} {
		_, err = r.ProjectSeries(context.Background(), "p1", counter, Params{
			Since:         0,
			Until:         3600,
			BucketMinutes: bucket,
		})
		assert.ErrorIs(t, err, ErrInvalidBucket, "bucket %d", bucket)
	}
	assert.Zero(t, counter.calls, "rejection must precede the fallback")
}
