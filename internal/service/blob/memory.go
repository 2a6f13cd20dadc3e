package blob

import (
	"context"
	"fmt"
	"sync"

	"resident_chat/internal/model"
)

type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]*Object
}

var (
	_ Store  = (*Memory)(nil)
	_ Reader = (*Memory)(nil)
)

// NewMemory keeps objects in process; addresses are baseURL/key.
func NewMemory(baseURL string) *Memory {
	return &Memory{
		baseURL: baseURL,
		objects: make(map[string]*Object),
	}
}

func (m *Memory) Put(ctx context.Context, obj *Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c := *obj
	c.Data = append([]byte(nil), obj.Data...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.Key]; ok {
		return fmt.Errorf("object %q already exists", obj.Key)
	}
	m.objects[obj.Key] = &c
	return nil
}

func (m *Memory) Resolve(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("object %q: %w", key, model.ErrNotFound)
	}
	return joinURL(m.baseURL, key), nil
}

func (m *Memory) Open(ctx context.Context, key string) (*Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", key, model.ErrNotFound)
	}
	c := *obj
	return &c, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
