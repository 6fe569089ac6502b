package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Release is a deployed version of a project, stored in the shared
// `releases` collection and filtered by the projectId field.
type Release struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ProjectID string             `bson:"projectId"     json:"projectId"`
	Release   string             `bson:"release"       json:"release"`
	Commits   []Commit           `bson:"commits,omitempty" json:"commits,omitempty"`
}

// Commit is a single VCS commit attached to a release.
type Commit struct {
	Hash    string `bson:"hash"    json:"hash"`
	Author  string `bson:"author"  json:"author"`
	Title   string `bson:"title"   json:"title"`
	Date    int64  `bson:"date"    json:"date"`
}
