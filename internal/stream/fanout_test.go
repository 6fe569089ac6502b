package stream

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/codex-team/hawk.events/pkg/models"
)

// fakeCursor feeds events from a channel, mimicking a change stream cursor.
type fakeCursor struct {
	events  chan models.Event
	current models.Event
	closed  chan struct{}
}

func newFakeCursor() *fakeCursor {
	return &fakeCursor{
		events: make(chan models.Event, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeCursor) push(ev models.Event) { c.events <- ev }

func (c *fakeCursor) Next(ctx context.Context) bool {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return false
		}
		c.current = ev
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}

func (c *fakeCursor) Decode(v any) error {
	// The pump decodes into a struct with a FullDocument field.
	reflect.ValueOf(v).Elem().FieldByName("FullDocument").Set(reflect.ValueOf(c.current))
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Close(context.Context) error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeCursor) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

type fakeSource struct {
	cursors  map[string]*fakeCursor
	watchErr map[string]error
	watched  []string
}

func newFakeSource(projectIDs ...string) *fakeSource {
	src := &fakeSource{
		cursors:  make(map[string]*fakeCursor),
		watchErr: make(map[string]error),
	}
	for _, id := range projectIDs {
		src.cursors[id] = newFakeCursor()
	}
	return src
}

func (s *fakeSource) Watch(_ context.Context, projectID string) (cursor, error) {
	s.watched = append(s.watched, projectID)
	if err := s.watchErr[projectID]; err != nil {
		return nil, err
	}
	cur, ok := s.cursors[projectID]
	if !ok {
		return nil, errors.New("unknown project")
	}
	return cur, nil
}

type fakeLister struct {
	ids   []string
	err   error
	calls int
}

func (l *fakeLister) ProjectIDs(context.Context, string) ([]string, error) {
	l.calls++
	return l.ids, l.err
}

func event(title string) models.Event {
	return models.Event{
		ID:        primitive.NewObjectID(),
		GroupHash: "h-" + title,
		Payload:   models.Payload{"title": title},
	}
}

func ctxWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNext_DeliversInsertedEvents(t *testing.T) {
	src := newFakeSource("p1")
	lister := &fakeLister{ids: []string{"p1"}}
	sub := newFanoutWithSource(src, lister, 0).Subscribe("user-1")
	t.Cleanup(func() { _ = sub.Close(context.Background()) })

	src.cursors["p1"].push(event("first"))
	src.cursors["p1"].push(event("second"))

	n, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, "p1", n.ProjectID)
	assert.Equal(t, "first", n.Event.Payload["title"])

	n, err = sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, "second", n.Event.Payload["title"])
}

func TestNext_ActivationIsLazy(t *testing.T) {
	src := newFakeSource("p1")
	lister := &fakeLister{ids: []string{"p1"}}
	sub := newFanoutWithSource(src, lister, 0).Subscribe("user-1")
	t.Cleanup(func() { _ = sub.Close(context.Background()) })

	assert.Zero(t, lister.calls, "Subscribe must not resolve projects")
	assert.Empty(t, src.watched, "Subscribe must not open cursors")

	src.cursors["p1"].push(event("e"))
	_, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)

	assert.Equal(t, 1, lister.calls)
	assert.Equal(t, []string{"p1"}, src.watched)

	// Later calls reuse the open cursors.
	src.cursors["p1"].push(event("e2"))
	_, err = sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)
	assert.Equal(t, 1, lister.calls)
}

func TestNext_MergesMultipleProjects(t *testing.T) {
	src := newFakeSource("p1", "p2")
	lister := &fakeLister{ids: []string{"p1", "p2"}}
	sub := newFanoutWithSource(src, lister, 0).Subscribe("user-1")
	t.Cleanup(func() { _ = sub.Close(context.Background()) })

	src.cursors["p1"].push(event("a"))
	src.cursors["p2"].push(event("b"))

	got := map[string]int{}
	for range 2 {
		n, err := sub.Next(ctxWithTimeout(t))
		require.NoError(t, err)
		got[n.ProjectID]++
	}
	assert.Equal(t, map[string]int{"p1": 1, "p2": 1}, got)
}

func TestNext_ListerErrorPropagates(t *testing.T) {
	wantErr := errors.New("accounts unavailable")
	sub := newFanoutWithSource(newFakeSource(), &fakeLister{err: wantErr}, 0).Subscribe("user-1")

	_, err := sub.Next(ctxWithTimeout(t))
	assert.ErrorIs(t, err, wantErr)
}

func TestNext_WatchErrorClosesOpenedCursors(t *testing.T) {
	src := newFakeSource("p1", "p2")
	src.watchErr["p2"] = errors.New("watch refused")
	lister := &fakeLister{ids: []string{"p1", "p2"}}
	sub := newFanoutWithSource(src, lister, 0).Subscribe("user-1")

	_, err := sub.Next(ctxWithTimeout(t))
	require.Error(t, err)
	assert.True(t, src.cursors["p1"].isClosed(), "cursor opened before the failure must be closed")
}

func TestNext_ContextCancellation(t *testing.T) {
	src := newFakeSource("p1")
	sub := newFanoutWithSource(src, &fakeLister{ids: []string{"p1"}}, 0).Subscribe("user-1")
	t.Cleanup(func() { _ = sub.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_NextReturnsErrClosedEvenWithBufferedEvents(t *testing.T) {
	src := newFakeSource("p1")
	sub := newFanoutWithSource(src, &fakeLister{ids: []string{"p1"}}, 0).Subscribe("user-1")

	src.cursors["p1"].push(event("seen"))
	_, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)

	// Queue another event and wait for the pump to buffer it.
	src.cursors["p1"].push(event("buffered"))
	require.Eventually(t, func() bool { return len(sub.ch) == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, sub.Close(context.Background()))

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_SynchronouslyClosesCursors(t *testing.T) {
	src := newFakeSource("p1", "p2")
	sub := newFanoutWithSource(src, &fakeLister{ids: []string{"p1", "p2"}}, 0).Subscribe("user-1")

	src.cursors["p1"].push(event("e"))
	_, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)

	require.NoError(t, sub.Close(context.Background()))
	assert.True(t, src.cursors["p1"].isClosed())
	assert.True(t, src.cursors["p2"].isClosed())
}

// trackingCursor flags a Close that overlaps a Next in flight: the pumps
// share the cursor with Close, and the driver's cursors tolerate no
// concurrent use.
type trackingCursor struct {
	*fakeCursor
	inNext           atomic.Bool
	closedDuringNext atomic.Bool
}

func (c *trackingCursor) Next(ctx context.Context) bool {
	c.inNext.Store(true)
	defer c.inNext.Store(false)
	return c.fakeCursor.Next(ctx)
}

func (c *trackingCursor) Close(ctx context.Context) error {
	if c.inNext.Load() {
		c.closedDuringNext.Store(true)
	}
	return c.fakeCursor.Close(ctx)
}

type singleCursorSource struct {
	cur cursor
}

func (s *singleCursorSource) Watch(context.Context, string) (cursor, error) {
	return s.cur, nil
}

func TestClose_WaitsForPumpsBeforeClosingCursors(t *testing.T) {
	cur := &trackingCursor{fakeCursor: newFakeCursor()}
	src := &singleCursorSource{cur: cur}
	sub := newFanoutWithSource(src, &fakeLister{ids: []string{"p1"}}, 0).Subscribe("user-1")

	// Activate without an event: the pump parks inside cursor Next.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, sub.Close(context.Background()))
	assert.True(t, cur.isClosed())
	assert.False(t, cur.closedDuringNext.Load(), "cursor closed while a pump was still reading it")
}

func TestClose_Idempotent(t *testing.T) {
	src := newFakeSource("p1")
	sub := newFanoutWithSource(src, &fakeLister{ids: []string{"p1"}}, 0).Subscribe("user-1")

	src.cursors["p1"].push(event("e"))
	_, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)

	require.NoError(t, sub.Close(context.Background()))
	require.NoError(t, sub.Close(context.Background()))
}

func TestClose_BeforeActivation(t *testing.T) {
	lister := &fakeLister{ids: []string{"p1"}}
	sub := newFanoutWithSource(newFakeSource("p1"), lister, 0).Subscribe("user-1")

	require.NoError(t, sub.Close(context.Background()))

	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Zero(t, lister.calls, "a closed subscription must not open cursors")
}

func TestClose_UnblocksFullBufferProducer(t *testing.T) {
	src := newFakeSource("p1")
	sub := newFanoutWithSource(src, &fakeLister{ids: []string{"p1"}}, 1).Subscribe("user-1")

	cur := src.cursors["p1"]
	cur.push(event("e1"))
	cur.push(event("e2"))
	cur.push(event("e3"))

	_, err := sub.Next(ctxWithTimeout(t))
	require.NoError(t, err)

	// The pump is now blocked sending into the size-1 buffer. Close must
	// still return: a blocked producer cannot wedge shutdown.
	done := make(chan error, 1)
	go func() { done <- sub.Close(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a backpressured producer")
	}
}
