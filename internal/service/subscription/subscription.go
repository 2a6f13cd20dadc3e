// Package subscription keeps a live, ordered view of one conversation log.
// Every notification carries the complete ordered snapshot; consumers replace
// their state wholesale instead of patching it.
package subscription

import (
	"context"
	"errors"
	"sync"

	"resident_chat/internal/model"
	"resident_chat/internal/repository"
	"resident_chat/internal/utils/log"

	"go.uber.org/zap"
)

var errStreamEnded = errors.New("change stream ended")

type (
	// Source is satisfied by *convlog.ConversationLog.
	Source interface {
		List(ctx context.Context, conv model.ConversationID) ([]*model.Message, error)
		Stream(ctx context.Context, conv model.ConversationID) (repository.ChangeStream, error)
	}

	Feed struct {
		source Source
	}

	Handle struct {
		conv   model.ConversationID
		cancel context.CancelFunc
		done   chan struct{}

		mu        sync.Mutex
		cancelled bool
	}
)

func NewFeed(source Source) *Feed {
	return &Feed{source: source}
}

// Subscribe opens the feed for conv and delivers the current snapshot, then a
// new snapshot after every change that alters it. ctx bounds only the setup;
// the feed runs until Cancel or until it fails, in which case onError is
// called once with a *model.FeedError and nothing is delivered afterwards.
//
// Callbacks run on the feed goroutine, one at a time.
func (f *Feed) Subscribe(ctx context.Context, conv model.ConversationID, onChange func([]*model.Message), onError func(error)) (*Handle, error) {
	if err := conv.Validate(); err != nil {
		return nil, err
	}

	// watch before the first read so no write between the two is missed
	cs, err := f.source.Stream(ctx, conv)
	if err != nil {
		return nil, &model.FeedError{Conversation: conv, Err: err}
	}

	snapshot, err := f.source.List(ctx, conv)
	if err != nil {
		_ = cs.Close(context.WithoutCancel(ctx))
		return nil, &model.FeedError{Conversation: conv, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		conv:   conv,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.run(runCtx, f.source, cs, snapshot, onChange, onError)
	return h, nil
}

func (h *Handle) Conversation() model.ConversationID {
	return h.conv
}

// Cancel stops the feed and releases the change stream. It is idempotent and
// does not wait for the feed goroutine, so it is safe to call from inside a
// callback or from a goroutine the callbacks hand off to. At most one
// delivery that was already under way may still run after Cancel returns;
// callers that must ignore it keep their own guard. Nothing is delivered
// once Done is closed.
func (h *Handle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return
	}
	h.cancelled = true
	h.cancel()
}

// Done is closed once the feed goroutine has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) active() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.cancelled
}

func (h *Handle) run(ctx context.Context, source Source, cs repository.ChangeStream, snapshot []*model.Message,
	onChange func([]*model.Message), onError func(error)) {
	defer close(h.done)
	defer cs.Close(context.Background())

	fail := func(err error) {
		if ctx.Err() != nil || !h.active() {
			return
		}
		log.Warn("conversation feed failed", zap.String("conversation", h.conv.String()), zap.Error(err))
		if onError != nil {
			onError(&model.FeedError{Conversation: h.conv, Err: err})
		}
	}

	last := snapshot
	if h.active() {
		onChange(last)
	}

	for {
		if !cs.Next(ctx) {
			err := cs.Err()
			if err == nil {
				err = errStreamEnded
			}
			fail(err)
			return
		}

		next, err := source.List(ctx, h.conv)
		if err != nil {
			fail(err)
			return
		}
		if sameOrder(last, next) {
			continue
		}

		last = next
		if !h.active() {
			return
		}
		onChange(next)
	}
}

// sameOrder compares snapshots by message id sequence; stored messages are
// immutable so equal ids in equal order mean equal snapshots.
func sameOrder(a, b []*model.Message) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}
