package store

import (
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrNotFound is returned when a lookup matches no document. Callers
	// decide whether absence is an error.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidLimit is returned for page sizes above the maximum, before
	// any database call is made.
	ErrInvalidLimit = errors.New("limit must be between 0 and 100")

	// ErrIntegrity is returned when a daily rollup row has no matching
	// original event or last repetition. Such rows indicate corrupted data
	// and are surfaced rather than silently dropped.
	ErrIntegrity = errors.New("daily event join integrity violation")
)

// MaxLimit is the largest page size any listing operation accepts.
const MaxLimit = 100

// Cursor is an opaque pagination token: the id of the first row excluded
// from the current page. A nil cursor means "start from the newest".
type Cursor = *primitive.ObjectID

// ProjectStore gives access to one project's event, repetition and daily
// rollup collections. All methods are safe for concurrent use; every write
// is a single-document atomic update.
type ProjectStore struct {
	db        *mongo.Database
	projectID string
}

// NewProjectStore binds a store to a project. An empty project id is a
// precondition violation, never recovered locally.
func NewProjectStore(db *mongo.Database, projectID string) (*ProjectStore, error) {
	if projectID == "" {
		return nil, errors.New("store: project id is required")
	}
	return &ProjectStore{db: db, projectID: projectID}, nil
}

// ProjectID returns the project this store is bound to.
func (s *ProjectStore) ProjectID() string { return s.projectID }

func (s *ProjectStore) events() *mongo.Collection {
	return s.db.Collection(CollectionName(CollectionEvents, s.projectID))
}

func (s *ProjectStore) repetitions() *mongo.Collection {
	return s.db.Collection(CollectionName(CollectionRepetitions, s.projectID))
}

func (s *ProjectStore) dailyEvents() *mongo.Collection {
	return s.db.Collection(CollectionName(CollectionDailyEvents, s.projectID))
}

func (s *ProjectStore) releases() *mongo.Collection {
	return s.db.Collection(CollectionReleases)
}

// validLimit rejects page sizes above MaxLimit and clamps negatives to 0.
func validLimit(limit int64) (int64, error) {
	if limit > MaxLimit {
		return 0, ErrInvalidLimit
	}
	if limit < 0 {
		return 0, nil
	}
	return limit, nil
}
