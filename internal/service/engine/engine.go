// Package engine drives a participant's open conversations. A single actor
// goroutine owns every view; feed callbacks and completions of sends and
// image fetches are posted to it as closures.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"resident_chat/internal/model"
	"resident_chat/internal/service/cache"
	"resident_chat/internal/service/convlog"
	"resident_chat/internal/service/subscription"
	"resident_chat/internal/utils/log"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ViewState int

const (
	Closed ViewState = iota
	Opening
	Open
)

func (s ViewState) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

type (
	// Listener receives view updates. Methods are called on the actor
	// goroutine and must not call back into the Engine synchronously.
	Listener interface {
		OnMessages(conv model.ConversationID, msgs []*model.Message)
		OnAttachment(conv model.ConversationID, address string, img *cache.Image, err error)
		OnSendFailed(conv model.ConversationID, err error)
		OnFeedError(conv model.ConversationID, err error)
	}

	Appender interface {
		Append(ctx context.Context, conv model.ConversationID, msg *model.Message) (*convlog.Ack, error)
	}

	Subscriber interface {
		Subscribe(ctx context.Context, conv model.ConversationID, onChange func([]*model.Message), onError func(error)) (*subscription.Handle, error)
	}

	Uploader interface {
		Upload(ctx context.Context, data []byte, contentType string) (string, error)
	}

	ImageLoader interface {
		Request(key string, fn func(*cache.Image, error))
	}

	Option func(*Engine)

	Engine struct {
		self     string
		log      Appender
		feed     Subscriber
		uploads  Uploader
		images   ImageLoader
		listener Listener
		now      func() time.Time
		newID    func() string

		ops  chan func()
		done chan struct{}

		// owned by the actor
		views map[model.ConversationID]*view
		gen   uint64
	}

	view struct {
		state     ViewState
		gen       uint64
		handle    *subscription.Handle
		messages  []*model.Message
		requested map[string]struct{}
	}
)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithImages enables fetching attachment content for open views.
func WithImages(images ImageLoader) Option {
	return func(e *Engine) { e.images = images }
}

func New(self string, log Appender, feed Subscriber, uploads Uploader, listener Listener, opts ...Option) *Engine {
	e := &Engine{
		self:     self,
		log:      log,
		feed:     feed,
		uploads:  uploads,
		listener: listener,
		now:      time.Now,
		newID:    uuid.NewString,
		ops:      make(chan func()),
		done:     make(chan struct{}),
		views:    make(map[model.ConversationID]*view),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.listener == nil {
		e.listener = nopListener{}
	}
	return e
}

// Run processes operations until ctx is done, then releases every feed.
// Call it once.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case op := <-e.ops:
			op()
		case <-ctx.Done():
			for conv, v := range e.views {
				if v.handle != nil {
					v.handle.Cancel()
				}
				delete(e.views, conv)
			}
			return
		}
	}
}

// Open starts following conv. Opening an open or opening view does nothing.
func (e *Engine) Open(ctx context.Context, conv model.ConversationID) error {
	if err := e.checkOwner(conv); err != nil {
		return err
	}

	var (
		gen   uint64
		start bool
	)
	err := e.do(ctx, func() {
		if v, ok := e.views[conv]; ok && v.state != Closed {
			return
		}
		e.gen++
		gen, start = e.gen, true
		e.views[conv] = &view{
			state:     Opening,
			gen:       gen,
			requested: make(map[string]struct{}),
		}
	})
	if err != nil || !start {
		return err
	}

	h, err := e.feed.Subscribe(ctx, conv,
		func(msgs []*model.Message) {
			e.post(context.Background(), func() { e.onSnapshot(conv, gen, msgs) })
		},
		func(err error) {
			e.post(context.Background(), func() { e.onFeedError(conv, gen, err) })
		})
	if err != nil {
		_ = e.do(context.WithoutCancel(ctx), func() {
			if e.current(conv, gen) != nil {
				delete(e.views, conv)
			}
		})
		return err
	}

	err = e.do(context.WithoutCancel(ctx), func() {
		if v := e.current(conv, gen); v != nil {
			v.handle = h
			return
		}
		// closed or failed while subscribing
		h.Cancel()
	})
	if err != nil {
		h.Cancel()
	}
	return err
}

// Close stops following conv and drops its messages. Closing a closed view
// does nothing.
func (e *Engine) Close(ctx context.Context, conv model.ConversationID) error {
	return e.do(ctx, func() {
		v, ok := e.views[conv]
		if !ok {
			return
		}
		if v.handle != nil {
			v.handle.Cancel()
		}
		delete(e.views, conv)
	})
}

// SendText appends a text message from self to conv. The caller keeps its
// compose text when an error is returned.
func (e *Engine) SendText(ctx context.Context, conv model.ConversationID, body string) (*convlog.Ack, error) {
	if strings.TrimSpace(body) == "" {
		return nil, model.ErrEmptyBody
	}
	if err := e.checkOwner(conv); err != nil {
		return nil, err
	}

	msg := model.NewTextMessage(e.newID(), e.self, body, e.now())
	return e.append(ctx, conv, msg)
}

// SendImage uploads data and appends an image message referencing it. A
// failed upload appends nothing.
func (e *Engine) SendImage(ctx context.Context, conv model.ConversationID, data []byte, contentType string) (*convlog.Ack, error) {
	if err := e.checkOwner(conv); err != nil {
		return nil, err
	}

	address, err := e.uploads.Upload(ctx, data, contentType)
	if err != nil {
		e.sendFailed(ctx, conv, err)
		return nil, err
	}

	msg := model.NewImageMessage(e.newID(), e.self, address, e.now())
	return e.append(ctx, conv, msg)
}

func (e *Engine) State(ctx context.Context, conv model.ConversationID) (ViewState, error) {
	state := Closed
	err := e.do(ctx, func() {
		if v, ok := e.views[conv]; ok {
			state = v.state
		}
	})
	return state, err
}

// Messages returns the last delivered snapshot of an open view.
func (e *Engine) Messages(ctx context.Context, conv model.ConversationID) ([]*model.Message, error) {
	var msgs []*model.Message
	err := e.do(ctx, func() {
		if v, ok := e.views[conv]; ok {
			msgs = append(msgs, v.messages...)
		}
	})
	return msgs, err
}

func (e *Engine) append(ctx context.Context, conv model.ConversationID, msg *model.Message) (*convlog.Ack, error) {
	ack, err := e.log.Append(ctx, conv, msg)
	if err != nil {
		e.sendFailed(ctx, conv, err)
		return nil, err
	}
	if ack.PeerPending {
		log.Warn("message stored for sender only",
			zap.String("conversation", conv.String()),
			zap.String("message_id", ack.MessageID),
			zap.Error(ack.PeerErr))
	}
	return ack, nil
}

func (e *Engine) sendFailed(ctx context.Context, conv model.ConversationID, err error) {
	log.Warn("send failed", zap.String("conversation", conv.String()), zap.Error(err))
	e.post(context.WithoutCancel(ctx), func() {
		if v, ok := e.views[conv]; ok && v.state != Closed {
			e.listener.OnSendFailed(conv, err)
		}
	})
}

func (e *Engine) onSnapshot(conv model.ConversationID, gen uint64, msgs []*model.Message) {
	v := e.current(conv, gen)
	if v == nil {
		return
	}
	v.state = Open
	v.messages = msgs
	e.listener.OnMessages(conv, msgs)

	if e.images == nil {
		return
	}
	for _, m := range msgs {
		if !m.IsImage() {
			continue
		}
		address := m.AttachmentAddress
		if _, ok := v.requested[address]; ok {
			continue
		}
		v.requested[address] = struct{}{}
		e.images.Request(address, func(img *cache.Image, err error) {
			e.post(context.Background(), func() { e.onAttachment(conv, gen, address, img, err) })
		})
	}
}

func (e *Engine) onAttachment(conv model.ConversationID, gen uint64, address string, img *cache.Image, err error) {
	v := e.current(conv, gen)
	if v == nil {
		return
	}
	if err != nil {
		// the next snapshot asks again
		delete(v.requested, address)
	}
	e.listener.OnAttachment(conv, address, img, err)
}

func (e *Engine) onFeedError(conv model.ConversationID, gen uint64, err error) {
	v := e.current(conv, gen)
	if v == nil {
		return
	}
	if v.handle != nil {
		v.handle.Cancel()
	}
	delete(e.views, conv)
	e.listener.OnFeedError(conv, err)
}

// current returns the view of conv if it still belongs to generation gen.
func (e *Engine) current(conv model.ConversationID, gen uint64) *view {
	v, ok := e.views[conv]
	if !ok || v.gen != gen || v.state == Closed {
		return nil
	}
	return v
}

func (e *Engine) checkOwner(conv model.ConversationID) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	if conv.Owner != e.self {
		return fmt.Errorf("%w: %s is not the owner of %s", model.ErrNotParticipant, e.self, conv)
	}
	return nil
}

// do runs fn on the actor and waits for it.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	op := func() {
		defer close(finished)
		fn()
	}

	select {
	case e.ops <- op:
	case <-e.done:
		return model.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}

// post hands fn to the actor without waiting for it to run.
func (e *Engine) post(ctx context.Context, fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	case <-ctx.Done():
	}
}

type nopListener struct{}

func (nopListener) OnMessages(model.ConversationID, []*model.Message) {}
func (nopListener) OnAttachment(model.ConversationID, string, *cache.Image, error) {}
func (nopListener) OnSendFailed(model.ConversationID, error) {}
func (nopListener) OnFeedError(model.ConversationID, error) {}
