package memstore

import (
	"context"
	"sync"

	"resident_chat/internal/model"
)

type stream struct {
	store   *Store
	log     model.ConversationID
	changed chan struct{}
	closed  chan struct{}

	mu   sync.Mutex
	err  error
	once sync.Once
}

// notify coalesces pending changes: a reader only needs to know that the log
// moved since it last looked.
func (w *stream) notify() {
	select {
	case w.changed <- struct{}{}:
	default:
	}
}

func (w *stream) fail(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	w.once.Do(func() { close(w.closed) })
}

func (w *stream) Next(ctx context.Context) bool {
	select {
	case <-w.closed:
		return false
	default:
	}

	select {
	case <-w.changed:
		return true
	case <-w.closed:
		return false
	case <-ctx.Done():
		w.mu.Lock()
		if w.err == nil {
			w.err = ctx.Err()
		}
		w.mu.Unlock()
		return false
	}
}

func (w *stream) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *stream) Close(context.Context) error {
	w.once.Do(func() { close(w.closed) })
	w.store.unregister(w)
	return nil
}
