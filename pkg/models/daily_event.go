package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DailyEvent is a per-(group, day) rollup upserted by the ingestion path on
// every accepted repetition. For a given groupHash there is at most one
// document per GroupingTimestamp. This service only reads them.
type DailyEvent struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`

	GroupHash string `bson:"groupHash" json:"groupHash"`

	// GroupingTimestamp is the UTC day-start of the bucket, in epoch seconds.
	GroupingTimestamp int64 `bson:"groupingTimestamp" json:"groupingTimestamp"`

	// Count is the number of occurrences that day.
	Count int64 `bson:"count" json:"count"`

	LastRepetitionID   primitive.ObjectID `bson:"lastRepetitionId,omitempty" json:"lastRepetitionId,omitempty"`
	LastRepetitionTime int64              `bson:"lastRepetitionTime"         json:"lastRepetitionTime"`
	AffectedUsers      int64              `bson:"affectedUsers"              json:"affectedUsers"`
}
