package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedFetch blocks every fetch until release is closed and counts calls.
type gatedFetch struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	err     error
}

func newGatedFetch() *gatedFetch {
	return &gatedFetch{release: make(chan struct{}), started: make(chan struct{}, 64)}
}

func (g *gatedFetch) fetch(ctx context.Context, key string) (string, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	<-g.release
	if g.err != nil {
		return "", g.err
	}
	return "value:" + key, nil
}

func TestGet_ConcurrentCallersShareOneFetch(t *testing.T) {
	g := newGatedFetch()
	l := NewLoader(g.fetch)

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = l.Get(context.Background(), "avatarA")
		}(i)
	}

	<-g.started
	require.Eventually(t, func() bool { return l.Peek("avatarA").State == Pending }, time.Second, time.Millisecond)
	// give the remaining callers time to attach
	time.Sleep(20 * time.Millisecond)
	close(g.release)
	wg.Wait()

	assert.Equal(t, int32(1), g.calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "value:avatarA", results[i])
	}
	assert.Equal(t, Ready, l.Peek("avatarA").State)
}

func TestGet_TwoCallersBeforeResolve(t *testing.T) {
	g := newGatedFetch()
	l := NewLoader(g.fetch)

	first := make(chan string, 1)
	second := make(chan string, 1)
	go func() { v, _ := l.Get(context.Background(), "avatarA"); first <- v }()
	<-g.started
	go func() { v, _ := l.Get(context.Background(), "avatarA"); second <- v }()
	time.Sleep(20 * time.Millisecond)
	close(g.release)

	assert.Equal(t, "value:avatarA", <-first)
	assert.Equal(t, "value:avatarA", <-second)
	assert.Equal(t, int32(1), g.calls.Load())

	// cached from now on
	v, err := l.Get(context.Background(), "avatarA")
	require.NoError(t, err)
	assert.Equal(t, "value:avatarA", v)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestGet_FailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	boom := errors.New("404")
	l := NewLoader(func(ctx context.Context, key string) (int, error) {
		if calls.Add(1) == 1 {
			return 0, boom
		}
		return 7, nil
	})

	_, err := l.Get(context.Background(), "k")
	require.ErrorIs(t, err, boom)
	e := l.Peek("k")
	assert.Equal(t, Failed, e.State)
	assert.ErrorIs(t, e.Err, boom)

	v, err := l.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_CallerContextDoesNotCancelSharedFetch(t *testing.T) {
	g := newGatedFetch()
	l := NewLoader(g.fetch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { _, err := l.Get(ctx, "k"); done <- err }()
	<-g.started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	close(g.release)
	require.Eventually(t, func() bool { return l.Peek("k").State == Ready }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), g.calls.Load())
}

func TestRequest_CallsBackAsynchronously(t *testing.T) {
	l := NewLoader(func(ctx context.Context, key string) (string, error) { return key + "!", nil })

	type result struct {
		v   string
		err error
	}
	got := make(chan result, 1)
	l.Request("hi", func(v string, err error) { got <- result{v, err} })
	select {
	case r := <-got:
		require.NoError(t, r.err)
		assert.Equal(t, "hi!", r.v)
	case <-time.After(time.Second):
		t.Fatal("callback not called")
	}
}

func TestMaxEntries_EvictsLeastRecentlyUsed(t *testing.T) {
	var calls atomic.Int32
	l := NewLoader(func(ctx context.Context, key string) (string, error) {
		calls.Add(1)
		return key, nil
	}, WithMaxEntries(2))
	ctx := context.Background()

	for _, k := range []string{"a", "b"} {
		_, err := l.Get(ctx, k)
		require.NoError(t, err)
	}
	_, _ = l.Get(ctx, "a") // a becomes most recent
	_, _ = l.Get(ctx, "c") // evicts b

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, Absent, l.Peek("b").State)
	assert.Equal(t, Ready, l.Peek("a").State)
	assert.Equal(t, int32(3), calls.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "absent", Absent.String())
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "failed", Failed.String())
}
