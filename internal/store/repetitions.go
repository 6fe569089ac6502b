package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codex-team/hawk.events/pkg/delta"
	"github.com/codex-team/hawk.events/pkg/models"
)

// RepetitionItem is one entry of a repetition page with its payload fully
// materialized through the delta codec.
type RepetitionItem struct {
	ID        primitive.ObjectID `json:"id"`
	GroupHash string             `json:"groupHash"`
	Timestamp int64              `json:"timestamp"`
	Payload   models.Payload     `json:"payload"`
}

// RepetitionsPage is one page of a group's repetition history. NextCursor
// is nil on the terminal page, which additionally carries the synthetic
// original-event entry as its last item.
type RepetitionsPage struct {
	Items      []RepetitionItem `json:"items"`
	NextCursor Cursor           `json:"nextCursor,omitempty"`
}

// FindRepetitionByID returns the repetition with the given id, or
// ErrNotFound.
func (s *ProjectStore) FindRepetitionByID(ctx context.Context, id primitive.ObjectID) (*models.Repetition, error) {
	var rep models.Repetition
	err := s.repetitions().FindOne(ctx, bson.M{"_id": id}).Decode(&rep)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find repetition: %w", err)
	}
	return &rep, nil
}

// ResolveOriginal maps an id that may belong to either an event or a
// repetition to the group's original event: a repetition id resolves
// through its groupHash, anything else is tried directly against the
// events collection.
func (s *ProjectStore) ResolveOriginal(ctx context.Context, id primitive.ObjectID) (*models.Event, error) {
	rep, err := s.FindRepetitionByID(ctx, id)
	if err == nil {
		return s.FindOne(ctx, bson.M{"groupHash": rep.GroupHash})
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.FindByID(ctx, id)
}

// Repetitions returns one page of the group's repetition history, newest
// first. Cursor pagination relies on _id being monotonic with insertion
// time: a repetition inserted mid-walk sorts after every cursor already
// issued, so pages never skip or duplicate entries. The terminal page
// appends the original event itself as a synthetic entry, with its
// timestamp relabeled firstAppearanceTimestamp.
func (s *ProjectStore) Repetitions(ctx context.Context, eventID primitive.ObjectID, limit int64, cursor Cursor) (*RepetitionsPage, error) {
	limit, err := validLimit(limit)
	if err != nil {
		return nil, err
	}

	original, err := s.ResolveOriginal(ctx, eventID)
	if errors.Is(err, ErrNotFound) {
		return &RepetitionsPage{Items: []RepetitionItem{}}, nil
	}
	if err != nil {
		return nil, err
	}

	query := bson.M{"groupHash": original.GroupHash}
	if cursor != nil {
		query["_id"] = bson.M{"$lte": *cursor}
	}

	// limit 0 means uncapped, as in Find: the whole history in one
	// terminal page, never a next cursor pointing at an empty walk.
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit + 1)
	}

	cur, err := s.repetitions().Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("find repetitions: %w", err)
	}
	defer cur.Close(ctx)

	var reps []models.Repetition
	if err := cur.All(ctx, &reps); err != nil {
		return nil, fmt.Errorf("decode repetitions: %w", err)
	}

	page := &RepetitionsPage{}
	if limit > 0 && int64(len(reps)) == limit+1 {
		next := reps[len(reps)-1].ID
		page.NextCursor = &next
		reps = reps[:len(reps)-1]
	}

	page.Items = make([]RepetitionItem, 0, len(reps)+1)
	for i := range reps {
		payload, err := delta.Apply(original.Payload, &reps[i])
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, RepetitionItem{
			ID:        reps[i].ID,
			GroupHash: reps[i].GroupHash,
			Timestamp: reps[i].Timestamp,
			Payload:   payload,
		})
	}

	if page.NextCursor == nil {
		page.Items = append(page.Items, originalAsRepetition(original))
	}
	return page, nil
}

// originalAsRepetition turns the original event into the terminal entry of
// a repetition walk, relabeling its timestamp as the group's first
// appearance.
func originalAsRepetition(event *models.Event) RepetitionItem {
	payload, _ := delta.Apply(event.Payload, nil)
	if ts, ok := payload[models.PayloadTimestamp]; ok {
		payload[models.PayloadFirstAppearance] = ts
		delete(payload, models.PayloadTimestamp)
	}
	return RepetitionItem{
		ID:        event.ID,
		GroupHash: event.GroupHash,
		Payload:   payload,
	}
}
