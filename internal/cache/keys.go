package cache

import (
	"fmt"
)

// DefaultMetricType is the per-project metric charts read by default.
const DefaultMetricType = "events-accepted"

// ProjectSeriesKey is the time-series key for a per-project metric:
// ts:project-{metricType}:{projectId}:{granularity}.
func ProjectSeriesKey(metricType, projectID string, granularity Granularity) string {
	if metricType == "" {
		metricType = DefaultMetricType
	}
	return fmt.Sprintf("ts:project-%s:%s:%s", metricType, projectID, granularity)
}

// GroupSeriesKey is the time-series key for one error group:
// ts:events:{groupHash}:{suffix}.
func GroupSeriesKey(groupHash string, granularity Granularity) string {
	return fmt.Sprintf("ts:events:%s:%s", groupHash, granularity)
}

// RateLimitKey is the sliding-window request counter for a client token.
func RateLimitKey(token string) string {
	return fmt.Sprintf("ratelimit:%s", token)
}
