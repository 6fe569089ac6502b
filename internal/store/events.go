package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codex-team/hawk.events/pkg/models"
)

// Find returns events matching query in insertion order, newest first.
// limit is validated against [0, MaxLimit] before the query runs.
func (s *ProjectStore) Find(ctx context.Context, query bson.M, limit, skip int64) ([]models.Event, error) {
	limit, err := validLimit(limit)
	if err != nil {
		return nil, err
	}
	if query == nil {
		query = bson.M{}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(limit).
		SetSkip(skip)

	cur, err := s.events().Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer cur.Close(ctx)

	var events []models.Event
	if err := cur.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// FindByID returns the event with the given id, or ErrNotFound.
func (s *ProjectStore) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Event, error) {
	return s.findOneEvent(ctx, bson.M{"_id": id})
}

// FindOne returns the first event matching query, or ErrNotFound.
func (s *ProjectStore) FindOne(ctx context.Context, query bson.M) (*models.Event, error) {
	return s.findOneEvent(ctx, query)
}

func (s *ProjectStore) findOneEvent(ctx context.Context, query bson.M) (*models.Event, error) {
	var event models.Event
	err := s.events().FindOne(ctx, query).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	return &event, nil
}

// ToggleMark flips a mark on the original event of the group eventID
// belongs to: a set mark is removed, an absent one is set to the current
// Unix time. The mark name set is open; resolved/ignored/starred are the
// conventional ones.
func (s *ProjectStore) ToggleMark(ctx context.Context, eventID primitive.ObjectID, mark string) error {
	event, err := s.ResolveOriginal(ctx, eventID)
	if err != nil {
		return err
	}

	field := "marks." + mark
	var update bson.M
	if event.HasMark(mark) {
		update = bson.M{"$unset": bson.M{field: ""}}
	} else {
		update = bson.M{"$set": bson.M{field: time.Now().Unix()}}
	}

	if _, err := s.events().UpdateByID(ctx, event.ID, update); err != nil {
		return fmt.Errorf("toggle mark %q: %w", mark, err)
	}
	return nil
}

// VisitEvent records that userID has viewed the event. Set semantics: a
// repeated visit by the same user changes nothing.
func (s *ProjectStore) VisitEvent(ctx context.Context, eventID primitive.ObjectID, userID string) error {
	update := bson.M{"$addToSet": bson.M{"visitedBy": userID}}
	res, err := s.events().UpdateByID(ctx, eventID, update)
	if err != nil {
		return fmt.Errorf("visit event: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateAssignee overwrites the event's assignee. An empty assignee clears
// the assignment.
func (s *ProjectStore) UpdateAssignee(ctx context.Context, eventID primitive.ObjectID, assignee string) error {
	var update bson.M
	if assignee == "" {
		update = bson.M{"$unset": bson.M{"assignee": ""}}
	} else {
		update = bson.M{"$set": bson.M{"assignee": assignee}}
	}
	res, err := s.events().UpdateByID(ctx, eventID, update)
	if err != nil {
		return fmt.Errorf("update assignee: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// UnreadCount counts events whose payload timestamp is newer than the
// user's last visit.
func (s *ProjectStore) UnreadCount(ctx context.Context, lastVisit int64) (int64, error) {
	query := bson.M{"payload.timestamp": bson.M{"$gt": lastVisit}}
	count, err := s.events().CountDocuments(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("count unread events: %w", err)
	}
	return count, nil
}

// FindRelease looks up a release of this project in the shared releases
// collection, or returns ErrNotFound.
func (s *ProjectStore) FindRelease(ctx context.Context, release string) (*models.Release, error) {
	query := bson.M{"projectId": s.projectID, "release": release}
	var rel models.Release
	err := s.releases().FindOne(ctx, query).Decode(&rel)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find release: %w", err)
	}
	return &rel, nil
}

// Remove drops the project's events, dailyEvents and repetitions
// collections. Each drop is guarded by an existence check, so removing an
// already-removed project is a no-op.
func (s *ProjectStore) Remove(ctx context.Context) error {
	kinds := []CollectionKind{CollectionEvents, CollectionDailyEvents, CollectionRepetitions}
	for _, kind := range kinds {
		name := CollectionName(kind, s.projectID)
		names, err := s.db.ListCollectionNames(ctx, bson.M{"name": name})
		if err != nil {
			return fmt.Errorf("list collections: %w", err)
		}
		if len(names) == 0 {
			continue
		}
		if err := s.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return nil
}

// EnsureIndexes creates the index set required by the ingestion and
// retrieval contracts. It is idempotent.
func (s *ProjectStore) EnsureIndexes(ctx context.Context) error {
	sparse := options.Index().SetSparse(true)

	_, err := s.events().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "groupHash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "payload.release", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "payload.timestamp", Value: 1}}, Options: sparse},
	})
	if err != nil {
		return fmt.Errorf("ensure event indexes: %w", err)
	}

	_, err = s.repetitions().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "groupHash", Value: "hashed"}}},
		{Keys: bson.D{{Key: "payload.user.id", Value: 1}}, Options: sparse},
	})
	if err != nil {
		return fmt.Errorf("ensure repetition indexes: %w", err)
	}

	_, err = s.dailyEvents().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "groupingTimestamp", Value: 1}}},
		{Keys: bson.D{
			{Key: "groupingTimestamp", Value: 1},
			{Key: "groupHash", Value: 1},
		}},
		{Keys: bson.D{
			{Key: "groupingTimestamp", Value: -1},
			{Key: "lastRepetitionTime", Value: -1},
			{Key: "_id", Value: -1},
		}},
	})
	if err != nil {
		return fmt.Errorf("ensure daily event indexes: %w", err)
	}
	return nil
}
