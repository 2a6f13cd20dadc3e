package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"resident_chat/internal/model"
	"resident_chat/internal/repository"
	"resident_chat/internal/repository/memstore"
	"resident_chat/internal/service/convlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ab = model.ConversationID{Owner: "alice", Peer: "bob"}

type recorder struct {
	snapshots chan []*model.Message
	errs      chan error
}

func newRecorder() *recorder {
	return &recorder{
		snapshots: make(chan []*model.Message, 16),
		errs:      make(chan error, 4),
	}
}

func (r *recorder) onChange(msgs []*model.Message) { r.snapshots <- msgs }
func (r *recorder) onError(err error)              { r.errs <- err }

func (r *recorder) next(t *testing.T) []*model.Message {
	t.Helper()
	select {
	case s := <-r.snapshots:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
		return nil
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case s := <-r.snapshots:
		t.Fatalf("unexpected snapshot with %d messages", len(s))
	case <-time.After(50 * time.Millisecond):
	}
}

func ids(msgs []*model.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func TestSubscribe_DeliversFullOrderedSnapshots(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	l := convlog.NewConversationLog(store, nil)
	t0 := time.Now()

	_, err := l.Append(ctx, ab, model.NewTextMessage("2", "alice", "later", t0.Add(time.Second)))
	require.NoError(t, err)

	rec := newRecorder()
	h, err := NewFeed(l).Subscribe(ctx, ab, rec.onChange, rec.onError)
	require.NoError(t, err)
	defer h.Cancel()

	assert.Equal(t, []string{"2"}, ids(rec.next(t)))

	_, err = l.Append(ctx, ab.Mirror(), model.NewTextMessage("1", "bob", "earlier", t0))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids(rec.next(t)))
}

func TestCancel_StopsDeliveryAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	l := convlog.NewConversationLog(store, nil)

	rec := newRecorder()
	h, err := NewFeed(l).Subscribe(ctx, ab, rec.onChange, rec.onError)
	require.NoError(t, err)
	assert.Empty(t, rec.next(t))

	h.Cancel()
	h.Cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("feed goroutine did not exit")
	}
	assert.Equal(t, 0, store.ActiveWatches(ab))

	_, err = l.Append(ctx, ab, model.NewTextMessage("1", "alice", "hi", time.Now()))
	require.NoError(t, err)
	rec.none(t)
	assert.Empty(t, rec.errs)
}

func TestCancel_FromCallbackStopsFurtherDelivery(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	l := convlog.NewConversationLog(store, nil)

	var h *Handle
	ready := make(chan struct{})
	calls := make(chan int, 8)
	n := 0
	onChange := func(msgs []*model.Message) {
		<-ready
		n++
		calls <- n
		h.Cancel()
	}
	h, err := NewFeed(l).Subscribe(ctx, ab, onChange, func(error) { t.Error("cancelled feed reported an error") })
	require.NoError(t, err)
	close(ready)

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("feed goroutine did not exit")
	}
	_, err = l.Append(ctx, ab, model.NewTextMessage("1", "alice", "hi", time.Now()))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, calls, 1)
}

func TestFeedError_ReportedOnceWithoutReconnect(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	l := convlog.NewConversationLog(store, nil)

	rec := newRecorder()
	h, err := NewFeed(l).Subscribe(ctx, ab, rec.onChange, rec.onError)
	require.NoError(t, err)
	rec.next(t)

	reset := errors.New("connection reset")
	store.Break(ab, reset)

	select {
	case err := <-rec.errs:
		var feedErr *model.FeedError
		require.ErrorAs(t, err, &feedErr)
		assert.Equal(t, ab, feedErr.Conversation)
		assert.ErrorIs(t, err, reset)
	case <-time.After(2 * time.Second):
		t.Fatal("feed error not reported")
	}

	<-h.Done()
	assert.Equal(t, 1, store.TotalWatches())
	assert.Empty(t, rec.errs)
}

type failingSource struct {
	streamErr error
	listErr   error
	closed    bool
}

func (f *failingSource) List(context.Context, model.ConversationID) ([]*model.Message, error) {
	return nil, f.listErr
}

func (f *failingSource) Stream(ctx context.Context, conv model.ConversationID) (repository.ChangeStream, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return &closeRecorder{src: f}, nil
}

type closeRecorder struct {
	repository.ChangeStream
	src *failingSource
}

func (c *closeRecorder) Close(context.Context) error {
	c.src.closed = true
	return nil
}

func TestSubscribe_SetupFailures(t *testing.T) {
	rec := newRecorder()

	_, err := NewFeed(&failingSource{streamErr: errors.New("not a replica set")}).Subscribe(context.Background(), ab, rec.onChange, rec.onError)
	var feedErr *model.FeedError
	require.ErrorAs(t, err, &feedErr)

	src := &failingSource{listErr: errors.New("timeout")}
	_, err = NewFeed(src).Subscribe(context.Background(), ab, rec.onChange, rec.onError)
	require.ErrorAs(t, err, &feedErr)
	assert.True(t, src.closed)

	_, err = NewFeed(src).Subscribe(context.Background(), model.ConversationID{Owner: "a", Peer: "a"}, rec.onChange, rec.onError)
	require.ErrorIs(t, err, model.ErrInvalidConversation)
}

func TestSameOrder(t *testing.T) {
	a := []*model.Message{{ID: "1"}, {ID: "2"}}
	assert.True(t, sameOrder(a, []*model.Message{{ID: "1"}, {ID: "2"}}))
	assert.False(t, sameOrder(a, []*model.Message{{ID: "2"}, {ID: "1"}}))
	assert.False(t, sameOrder(a, a[:1]))
}
