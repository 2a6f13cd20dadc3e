// Package cache memoizes keyed asynchronous fetches. A key has at most one
// fetch in flight; concurrent callers share it. Successful values are kept,
// failures are remembered only until the next request for the key.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type (
	State int

	Entry[V any] struct {
		State State
		Value V
		Err   error
	}

	FetchFunc[V any] func(ctx context.Context, key string) (V, error)

	Option func(*options)

	options struct {
		maxEntries   int
		fetchTimeout time.Duration
	}

	Loader[V any] struct {
		fetch FetchFunc[V]
		opts  options
		group singleflight.Group

		mu      sync.Mutex
		entries map[string]*entry[V]
		recent  *list.List // settled keys, most recently used first
	}

	entry[V any] struct {
		state State
		value V
		err   error
		elem  *list.Element
	}
)

const (
	Absent State = iota
	Pending
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "absent"
	}
}

// WithMaxEntries bounds the number of settled entries; the least recently
// used one is evicted first. Zero keeps every entry for the process lifetime.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithFetchTimeout bounds each shared fetch. Callers' contexts do not cancel
// a fetch other callers may be waiting on.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) { o.fetchTimeout = d }
}

func NewLoader[V any](fetch FetchFunc[V], opts ...Option) *Loader[V] {
	l := &Loader[V]{
		fetch:   fetch,
		entries: make(map[string]*entry[V]),
		recent:  list.New(),
	}
	for _, opt := range opts {
		opt(&l.opts)
	}
	return l
}

// Get returns the value for key, fetching it if it is absent or failed.
func (l *Loader[V]) Get(ctx context.Context, key string) (V, error) {
	l.mu.Lock()
	if e, ok := l.entries[key]; ok && e.state == Ready {
		l.recent.MoveToFront(e.elem)
		v := e.value
		l.mu.Unlock()
		return v, nil
	}
	ch := l.startLocked(key)
	l.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Request starts loading key without blocking and calls fn with the outcome
// on another goroutine.
func (l *Loader[V]) Request(key string, fn func(V, error)) {
	go func() {
		fn(l.Get(context.Background(), key))
	}()
}

// Peek reports the current entry for key without starting a fetch.
func (l *Loader[V]) Peek(key string) Entry[V] {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return Entry[V]{State: Absent}
	}
	return Entry[V]{State: e.state, Value: e.value, Err: e.err}
}

func (l *Loader[V]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Loader[V]) startLocked(key string) <-chan singleflight.Result {
	e, ok := l.entries[key]
	if !ok {
		e = &entry[V]{}
		l.entries[key] = e
	}
	if e.state != Pending {
		if e.elem != nil {
			l.recent.Remove(e.elem)
			e.elem = nil
		}
		e.state = Pending
		e.err = nil
	}

	return l.group.DoChan(key, func() (any, error) {
		ctx := context.Background()
		if l.opts.fetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, l.opts.fetchTimeout)
			defer cancel()
		}

		v, err := l.fetch(ctx, key)
		l.settle(key, v, err)
		return v, err
	})
}

func (l *Loader[V]) settle(key string, v V, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry[V]{}
		l.entries[key] = e
	}
	if err != nil {
		var zero V
		e.state, e.value, e.err = Failed, zero, err
	} else {
		e.state, e.value, e.err = Ready, v, nil
	}

	if e.elem == nil {
		e.elem = l.recent.PushFront(key)
	} else {
		l.recent.MoveToFront(e.elem)
	}

	for l.opts.maxEntries > 0 && l.recent.Len() > l.opts.maxEntries {
		oldest := l.recent.Back()
		l.recent.Remove(oldest)
		delete(l.entries, oldest.Value.(string))
	}
}
