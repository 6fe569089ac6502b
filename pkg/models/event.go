package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Payload is the structured body of an event. It is kept schemaless because
// client SDKs attach arbitrary fields and the delta codec must round-trip
// every one of them. The `addons` and `context` entries are JSON-encoded
// strings, not nested documents.
type Payload = map[string]any

// Payload keys with special handling in the delta codec and search filters.
const (
	PayloadTitle            = "title"
	PayloadTimestamp        = "timestamp"
	PayloadBacktrace        = "backtrace"
	PayloadAddons           = "addons"
	PayloadContext          = "context"
	PayloadRelease          = "release"
	PayloadFirstAppearance  = "firstAppearanceTimestamp"
)

// Event is the original occurrence of an error group: one document per
// distinct error signature within a project. Subsequent occurrences are
// stored as Repetitions against it.
type Event struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"           json:"id"`
	GroupHash     string             `bson:"groupHash"               json:"groupHash"`
	TotalCount    int64              `bson:"totalCount"              json:"totalCount"`
	UsersAffected int64              `bson:"usersAffected,omitempty" json:"usersAffected"`
	Payload       Payload            `bson:"payload"                 json:"payload"`
	Marks         map[string]int64   `bson:"marks,omitempty"         json:"marks,omitempty"`
	VisitedBy     []string           `bson:"visitedBy,omitempty"     json:"visitedBy,omitempty"`
	Assignee      string             `bson:"assignee,omitempty"      json:"assignee,omitempty"`
}

// HasMark reports whether the named mark is currently set.
// Presence of the key means "set"; the value is the time it was set.
func (e *Event) HasMark(name string) bool {
	_, ok := e.Marks[name]
	return ok
}

// Conventional mark names. The set is open: any string is a valid mark.
const (
	MarkResolved = "resolved"
	MarkIgnored  = "ignored"
	MarkStarred  = "starred"
)
