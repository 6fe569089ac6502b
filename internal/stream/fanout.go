// Package stream multiplexes "new event inserted" notifications from every
// project visible to a user into one ordered, cancellable sequence, backed
// by one insert-only change stream per project events collection.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/codex-team/hawk.events/internal/store"
	"github.com/codex-team/hawk.events/pkg/models"
)

// ErrClosed is returned by Next after Close. Events still buffered at
// close time are never delivered.
var ErrClosed = errors.New("stream: subscription closed")

// DefaultBuffer is the per-subscription notification buffer. Producers
// block once it fills, so a slow consumer applies backpressure to the
// watch cursors instead of growing memory without bound.
const DefaultBuffer = 64

// ProjectLister is the external collaborator resolving which projects a
// user can see.
type ProjectLister interface {
	ProjectIDs(ctx context.Context, userID string) ([]string, error)
}

// Notification is one inserted event with the project it belongs to.
type Notification struct {
	ProjectID string       `json:"projectId"`
	Event     models.Event `json:"event"`
}

// source opens a watch over one project's inserts. Split from Fanout so
// queue and lifecycle behavior is testable without a replica set.
type source interface {
	Watch(ctx context.Context, projectID string) (cursor, error)
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(v any) error
	Err() error
	Close(ctx context.Context) error
}

// Fanout creates subscriptions. One Fanout is shared process-wide; each
// subscription carries its own state.
type Fanout struct {
	src      source
	projects ProjectLister
	buffer   int
}

// NewFanout builds a Fanout over the given database.
func NewFanout(db *mongo.Database, projects ProjectLister, buffer int) *Fanout {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Fanout{src: &mongoSource{db: db}, projects: projects, buffer: buffer}
}

func newFanoutWithSource(src source, projects ProjectLister, buffer int) *Fanout {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Fanout{src: src, projects: projects, buffer: buffer}
}

// Subscription states.
const (
	stateCreated int32 = iota
	stateActive
	stateClosed
)

// Subscription is one user's live-event sequence. Not safe for concurrent
// Next calls; Close may be called from any goroutine, exactly once taking
// effect.
type Subscription struct {
	fanout *Fanout
	userID string

	state   atomic.Int32
	ch      chan Notification
	done    chan struct{}
	cancel  context.CancelFunc
	cursors []cursor
	wg      sync.WaitGroup
	once    sync.Once
}

// Subscribe creates a subscription for userID. Watch cursors are not
// opened until the first Next call.
func (f *Fanout) Subscribe(userID string) *Subscription {
	return &Subscription{
		fanout: f,
		userID: userID,
		ch:     make(chan Notification, f.buffer),
		done:   make(chan struct{}),
	}
}

// Next returns the next inserted event, blocking until one arrives, the
// context is cancelled, or the subscription is closed. The first call
// resolves the user's project list and opens the watch cursors.
func (s *Subscription) Next(ctx context.Context) (*Notification, error) {
	switch s.state.Load() {
	case stateClosed:
		return nil, ErrClosed
	case stateCreated:
		if err := s.activate(ctx); err != nil {
			return nil, err
		}
	}

	select {
	case n := <-s.ch:
		// Re-check: nothing buffered before Close may leak past it.
		if s.state.Load() == stateClosed {
			return nil, ErrClosed
		}
		return &n, nil
	case <-s.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Subscription) activate(ctx context.Context) error {
	projectIDs, err := s.fanout.projects.ProjectIDs(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("resolve projects: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, projectID := range projectIDs {
		cur, err := s.fanout.src.Watch(ctx, projectID)
		if err != nil {
			cancel()
			s.wg.Wait()
			s.closeCursors(ctx)
			return fmt.Errorf("watch project %s: %w", projectID, err)
		}
		s.cursors = append(s.cursors, cur)

		s.wg.Add(1)
		go s.pump(pumpCtx, projectID, cur)
	}

	s.state.Store(stateActive)
	return nil
}

// pump forwards one cursor's inserts into the shared buffer. The send
// blocks when the buffer is full: backpressure, by contract, instead of
// unbounded queue growth.
func (s *Subscription) pump(ctx context.Context, projectID string, cur cursor) {
	defer s.wg.Done()
	for cur.Next(ctx) {
		var change struct {
			FullDocument models.Event `bson:"fullDocument"`
		}
		if err := cur.Decode(&change); err != nil {
			continue
		}
		select {
		case s.ch <- Notification{ProjectID: projectID, Event: change.FullDocument}:
		case <-s.done:
			return
		}
	}
	if err := cur.Err(); err != nil && ctx.Err() == nil {
		slog.Warn("change stream ended", "project", projectID, "error", err)
	}
}

// Close transitions the subscription to its terminal state and
// synchronously closes every underlying watch cursor before returning, so
// no cursor leaks. Subsequent Next calls return ErrClosed even for events
// already buffered.
func (s *Subscription) Close(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.state.Store(stateClosed)
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		// Change stream cursors are not safe for concurrent use: the pumps
		// must be out of Next before Close touches the same cursor. The
		// cancel and the closed done channel unblock them.
		s.wg.Wait()
		err = s.closeCursors(ctx)
	})
	return err
}

func (s *Subscription) closeCursors(ctx context.Context) error {
	var errs []error
	for _, cur := range s.cursors {
		if cerr := cur.Close(ctx); cerr != nil {
			errs = append(errs, cerr)
		}
	}
	s.cursors = nil
	return errors.Join(errs...)
}

// mongoSource opens native change streams filtered to inserts.
type mongoSource struct {
	db *mongo.Database
}

func (m *mongoSource) Watch(ctx context.Context, projectID string) (cursor, error) {
	coll := m.db.Collection(store.CollectionName(store.CollectionEvents, projectID))
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{"operationType": "insert"}}},
	}
	cs, err := coll.Watch(ctx, pipeline, options.ChangeStream())
	if err != nil {
		return nil, err
	}
	return cs, nil
}
