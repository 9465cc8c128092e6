package kv

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memEntry struct {
	value   []byte
	expires time.Time
}

// MemStore keeps entries in process memory.
type MemStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	data map[string]memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{now: time.Now, data: map[string]memEntry{}}
}

func (m *MemStore) Put(_ context.Context, key string, value []byte, opts PutOptions) error {
	e := memEntry{value: slices.Clone(value)}
	if opts.TTL > 0 {
		e.expires = m.now().Add(opts.TTL)
	}
	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()
	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		return nil, ErrNotFound
	}
	return slices.Clone(e.value), nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Swap runs fn under the store lock. The swapped entry loses its TTL.
func (m *MemStore) Swap(_ context.Context, key string, fn func(old []byte, found bool) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if ok && !e.expires.IsZero() && !m.now().Before(e.expires) {
		ok = false
	}
	var old []byte
	if ok {
		old = slices.Clone(e.value)
	}
	v, err := fn(old, ok)
	if err != nil {
		return err
	}
	m.data[key] = memEntry{value: slices.Clone(v)}
	return nil
}

var (
	_ Store   = (*MemStore)(nil)
	_ Swapper = (*MemStore)(nil)
)
