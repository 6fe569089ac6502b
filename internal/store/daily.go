package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/codex-team/hawk.events/pkg/delta"
	"github.com/codex-team/hawk.events/pkg/models"
	"github.com/codex-team/hawk.events/pkg/search"
)

// Sort selects the secondary sort key of the daily listing. Rows are
// always ordered by grouping day first, newest day on top.
type Sort string

const (
	SortByDate          Sort = "BY_DATE"
	SortByCount         Sort = "BY_COUNT"
	SortByAffectedUsers Sort = "BY_AFFECTED_USERS"
)

// sortField maps a sort mode to the dailyEvents field it orders by.
// Unknown modes fall back to the default, BY_DATE.
func (s Sort) sortField() string {
	switch s {
	case SortByCount:
		return "count"
	case SortByAffectedUsers:
		return "affectedUsers"
	default:
		return "lastRepetitionTime"
	}
}

// DailyListParams filters and paginates the one-row-per-group listing.
// Filters maps mark names to "must have" (true) or "must not have" (false).
type DailyListParams struct {
	Limit   int64
	Cursor  Cursor
	Sort    Sort
	Filters map[string]bool
	Search  string
}

// DailyEventItem is one row of the listing: the rollup joined with its
// original event, payload composed with the last repetition through the
// delta codec.
type DailyEventItem struct {
	DailyEvent models.DailyEvent `json:"dailyEvent"`
	Event      models.Event      `json:"event"`
	Payload    models.Payload    `json:"payload"`
}

// DailyEventsPage is one page of the daily listing.
type DailyEventsPage struct {
	Items      []DailyEventItem `json:"items"`
	NextCursor Cursor           `json:"nextCursor,omitempty"`
}

// dailyRow is the raw aggregation output before join validation.
type dailyRow struct {
	models.DailyEvent `bson:",inline"`
	Event             *models.Event      `bson:"event"`
	Repetition        *models.Repetition `bson:"repetition"`
}

// DailyEvents lists the project's groups one row per (group, day), joined
// with the original event and each row's last repetition, filtered by
// marks and free text, paginated by _id cursor.
func (s *ProjectStore) DailyEvents(ctx context.Context, params DailyListParams) (*DailyEventsPage, error) {
	limit, err := validLimit(params.Limit)
	if err != nil {
		return nil, err
	}
	pattern, err := search.Sanitize(params.Search)
	if err != nil {
		return nil, err
	}

	pipeline := mongo.Pipeline{}
	if params.Cursor != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{
			"_id": bson.M{"$lte": *params.Cursor},
		}}})
	}

	pipeline = append(pipeline, bson.D{{Key: "$sort", Value: bson.D{
		{Key: "groupingTimestamp", Value: -1},
		{Key: params.Sort.sortField(), Value: -1},
	}}})

	pipeline = append(pipeline,
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         CollectionName(CollectionEvents, s.projectID),
			"localField":   "groupHash",
			"foreignField": "groupHash",
			"as":           "event",
		}}},
		bson.D{{Key: "$unwind", Value: bson.M{
			"path":                       "$event",
			"preserveNullAndEmptyArrays": true,
		}}},
		bson.D{{Key: "$lookup", Value: bson.M{
			"from":         CollectionName(CollectionRepetitions, s.projectID),
			"localField":   "lastRepetitionId",
			"foreignField": "_id",
			"as":           "repetition",
		}}},
		bson.D{{Key: "$unwind", Value: bson.M{
			"path":                       "$repetition",
			"preserveNullAndEmptyArrays": true,
		}}},
	)

	for mark, wantSet := range params.Filters {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: bson.M{
			"event.marks." + mark: bson.M{"$exists": wantSet},
		}}})
	}

	if filter := search.Filter(pattern); filter != nil {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: filter}})
	}

	// limit+1 to detect whether a next page exists.
	pipeline = append(pipeline, bson.D{{Key: "$limit", Value: limit + 1}})

	cur, err := s.dailyEvents().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily events: %w", err)
	}
	defer cur.Close(ctx)

	var rows []dailyRow
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode daily events: %w", err)
	}

	page := &DailyEventsPage{}
	if int64(len(rows)) == limit+1 {
		next := rows[len(rows)-1].ID
		page.NextCursor = &next
		rows = rows[:len(rows)-1]
	}

	page.Items = make([]DailyEventItem, 0, len(rows))
	for i := range rows {
		item, err := s.composeDailyItem(&rows[i])
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *item)
	}
	return page, nil
}

// composeDailyItem validates the joins and materializes the display
// payload. An unmatched join partner is a data-integrity bug, not a normal
// case.
func (s *ProjectStore) composeDailyItem(row *dailyRow) (*DailyEventItem, error) {
	if row.Event == nil {
		return nil, fmt.Errorf("%w: group %s has no original event", ErrIntegrity, row.GroupHash)
	}
	if !row.LastRepetitionID.IsZero() && row.Repetition == nil {
		return nil, fmt.Errorf("%w: group %s is missing repetition %s",
			ErrIntegrity, row.GroupHash, row.LastRepetitionID.Hex())
	}

	payload, err := delta.Apply(row.Event.Payload, row.Repetition)
	if err != nil {
		return nil, err
	}
	return &DailyEventItem{
		DailyEvent: row.DailyEvent,
		Event:      *row.Event,
		Payload:    payload,
	}, nil
}

// DailyCounts sums rollup counts per grouping day inside [since, until],
// optionally restricted to one group. It backs the chart fallback path
// when the time-series cache is unavailable.
func (s *ProjectStore) DailyCounts(ctx context.Context, groupHash string, since, until int64) (map[int64]int64, error) {
	match := bson.M{"groupingTimestamp": bson.M{"$gte": since, "$lte": until}}
	if groupHash != "" {
		match["groupHash"] = groupHash
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":   "$groupingTimestamp",
			"count": bson.M{"$sum": "$count"},
		}}},
	}

	cur, err := s.dailyEvents().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("aggregate daily counts: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		Day   int64 `bson:"_id"`
		Count int64 `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode daily counts: %w", err)
	}

	counts := make(map[int64]int64, len(rows))
	for _, row := range rows {
		counts[row.Day] = row.Count
	}
	return counts, nil
}
