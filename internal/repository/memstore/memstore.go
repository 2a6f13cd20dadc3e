// Package memstore is an in-process conversation log backend. It keeps the
// same ordering and idempotency rules as the mongo repository and is used for
// local runs and as a test double.
package memstore

import (
	"context"
	"sort"
	"sync"

	"resident_chat/internal/model"
	"resident_chat/internal/repository"
)

type (
	// InsertHook runs before every insert; a non-nil error fails the insert
	// without storing anything.
	InsertHook func(log model.ConversationID, msg *model.Message) error

	Store struct {
		mu       sync.Mutex
		logs     map[model.ConversationID][]*model.Message
		seq      map[model.ConversationID]int64
		watchers map[model.ConversationID]map[*stream]struct{}
		hook     InsertHook
		watches  int
	}
)

var _ repository.LogStore = (*Store)(nil)

func New() *Store {
	return &Store{
		logs:     make(map[model.ConversationID][]*model.Message),
		seq:      make(map[model.ConversationID]int64),
		watchers: make(map[model.ConversationID]map[*stream]struct{}),
	}
}

func (s *Store) SetInsertHook(h InsertHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

func (s *Store) Insert(ctx context.Context, log model.ConversationID, msg *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hook != nil {
		if err := s.hook(log, msg); err != nil {
			return err
		}
	}

	for _, m := range s.logs[log] {
		if m.ID == msg.ID {
			return nil
		}
	}

	s.seq[log]++
	c := msg.Clone()
	c.Seq = s.seq[log]
	c.CreatedAt = model.Timestamp(c.CreatedAt)

	entries := append(s.logs[log], c)
	sort.SliceStable(entries, func(i, j int) bool { return model.Less(entries[i], entries[j]) })
	s.logs[log] = entries

	for w := range s.watchers[log] {
		w.notify()
	}
	return nil
}

func (s *Store) List(ctx context.Context, log model.ConversationID) ([]*model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res := make([]*model.Message, 0, len(s.logs[log]))
	for _, m := range s.logs[log] {
		res = append(res, m.Clone())
	}
	return res, nil
}

func (s *Store) Watch(ctx context.Context, log model.ConversationID) (repository.ChangeStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := &stream{
		store:   s,
		log:     log,
		changed: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	if s.watchers[log] == nil {
		s.watchers[log] = make(map[*stream]struct{})
	}
	s.watchers[log][w] = struct{}{}
	s.watches++
	return w, nil
}

// Break terminates every open change stream on log with err, the way a
// dropped connection ends a mongo change stream.
func (s *Store) Break(log model.ConversationID, err error) {
	s.mu.Lock()
	watchers := s.watchers[log]
	delete(s.watchers, log)
	s.mu.Unlock()

	for w := range watchers {
		w.fail(err)
	}
}

// ActiveWatches is the number of change streams not yet closed.
func (s *Store) ActiveWatches(log model.ConversationID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[log])
}

// TotalWatches counts every Watch call since the store was created.
func (s *Store) TotalWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watches
}

func (s *Store) unregister(w *stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers[w.log], w)
}
