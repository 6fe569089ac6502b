package stream_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/codex-team/hawk.events/internal/config"
	"github.com/codex-team/hawk.events/internal/store"
	"github.com/codex-team/hawk.events/internal/stream"
	"github.com/codex-team/hawk.events/pkg/models"
)

type staticLister struct{ ids []string }

func (l *staticLister) ProjectIDs(context.Context, string) ([]string, error) {
	return l.ids, nil
}

func setupTestDB(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7", mongodb.WithReplicaSet("rs0"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, mongoContainer.Terminate(ctx)) })

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := store.Connect(ctx, config.MongoConfig{
		URL:            uri,
		Database:       "hawk_events_test",
		ConnectTimeout: 10 * time.Second,
		MaxPoolSize:    10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Client().Disconnect(ctx) })

	return db
}

func TestFanout_DeliversChangeStreamInserts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	ctx := context.Background()

	fanout := stream.NewFanout(db, &staticLister{ids: []string{"p1"}}, 0)
	sub := fanout.Subscribe("user-1")
	t.Cleanup(func() { _ = sub.Close(context.Background()) })

	// Insert after the first Next has had a chance to open the cursors.
	go func() {
		time.Sleep(2 * time.Second)
		coll := db.Collection(store.CollectionName(store.CollectionEvents, "p1"))
		_, _ = coll.InsertOne(ctx, models.Event{
			GroupHash: "g1",
			Payload:   models.Payload{"title": "live error"},
		})
	}()

	nextCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := sub.Next(nextCtx)
	require.NoError(t, err)
	assert.Equal(t, "p1", n.ProjectID)
	assert.Equal(t, "g1", n.Event.GroupHash)
	assert.Equal(t, "live error", n.Event.Payload["title"])
}

func TestFanout_IgnoresOtherProjects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	db := setupTestDB(t)
	ctx := context.Background()

	fanout := stream.NewFanout(db, &staticLister{ids: []string{"p1"}}, 0)
	sub := fanout.Subscribe("user-1")
	t.Cleanup(func() { _ = sub.Close(context.Background()) })

	go func() {
		time.Sleep(2 * time.Second)
		other := db.Collection(store.CollectionName(store.CollectionEvents, "p2"))
		_, _ = other.InsertOne(ctx, models.Event{GroupHash: "hidden", Payload: models.Payload{"title": "x"}})
		mine := db.Collection(store.CollectionName(store.CollectionEvents, "p1"))
		_, _ = mine.InsertOne(ctx, models.Event{GroupHash: "visible", Payload: models.Payload{"title": "y"}})
	}()

	nextCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	n, err := sub.Next(nextCtx)
	require.NoError(t, err)
	assert.Equal(t, "visible", n.Event.GroupHash, "inserts into unsubscribed projects never surface")
}
