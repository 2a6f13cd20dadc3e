package reconcile

import (
	"context"
	"encoding/json"
	"sync"

	"resident_chat/internal/model"
	"resident_chat/internal/utils/log"

	"go.uber.org/zap"
)

const DefaultQueueKey = "chat:repairs"

type (
	Queue interface {
		Enqueue(ctx context.Context, r *model.Repair) error
		// Drain removes and returns every queued repair.
		Drain(ctx context.Context) ([]*model.Repair, error)
	}

	// listStore is satisfied by *redis.RedisService.
	listStore interface {
		RPush(ctx context.Context, key string, value ...any) error
		Drain(ctx context.Context, key string) ([]string, error)
	}

	RedisQueue struct {
		list listStore
		key  string
	}

	MemoryQueue struct {
		mu    sync.Mutex
		items []*model.Repair
	}
)

func NewRedisQueue(list listStore, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{list: list, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, r *model.Repair) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return q.list.RPush(ctx, q.key, data)
}

func (q *RedisQueue) Drain(ctx context.Context) ([]*model.Repair, error) {
	vals, err := q.list.Drain(ctx, q.key)
	if err != nil {
		return nil, err
	}

	res := make([]*model.Repair, 0, len(vals))
	for _, v := range vals {
		var r model.Repair
		if err := json.Unmarshal([]byte(v), &r); err != nil || r.Message == nil {
			log.Error("dropping unreadable repair", zap.String("value", v), zap.Error(err))
			continue
		}
		res = append(res, &r)
	}
	return res, nil
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, r *model.Repair) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
	return nil
}

func (q *MemoryQueue) Drain(ctx context.Context) ([]*model.Repair, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items, nil
}

func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
