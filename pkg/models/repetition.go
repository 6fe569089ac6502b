package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Repetition is a later occurrence of an event group. It stores only the
// difference from the original event, in one of two historical formats:
//
//   - Delta: a JSON-patch (RFC 6902) string against the original payload.
//     This is the current format.
//   - Payload: a partial payload merged field-by-field with the original,
//     where an explicit null means "inherit the original value". Legacy,
//     read-only; kept for repetitions persisted before the delta format.
//
// A repetition with neither is byte-identical to the original.
// Repetitions are append-only and never mutated.
type Repetition struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"     json:"id"`
	GroupHash string             `bson:"groupHash"         json:"groupHash"`
	Timestamp int64              `bson:"timestamp"         json:"timestamp"`
	Delta     *string            `bson:"delta,omitempty"   json:"delta,omitempty"`
	Payload   Payload            `bson:"payload,omitempty" json:"payload,omitempty"`
}
