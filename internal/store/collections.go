package store

import (
	"fmt"
)

// CollectionKind is one of the three per-project collection families.
type CollectionKind string

const (
	CollectionEvents      CollectionKind = "events"
	CollectionRepetitions CollectionKind = "repetitions"
	CollectionDailyEvents CollectionKind = "dailyEvents"
)

// CollectionReleases is the single collection shared by all projects,
// filtered by the projectId field.
const CollectionReleases = "releases"

// CollectionName maps a (kind, project) pair to the physical collection
// name. The `${kind}:${projectId}` format is an external compatibility
// contract shared with the ingestion pipeline; this function is its single
// source of truth.
func CollectionName(kind CollectionKind, projectID string) string {
	return fmt.Sprintf("%s:%s", kind, projectID)
}
