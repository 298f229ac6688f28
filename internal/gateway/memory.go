package gateway

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type memDoc struct {
	data    []byte
	version int64
}

// MemoryGateway is an in-process Versioned gateway. It is used by tests and
// by the `memory` storage backend.
type MemoryGateway struct {
	mu   sync.RWMutex
	docs map[string]memDoc
}

// NewMemoryGateway returns an empty MemoryGateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{docs: make(map[string]memDoc)}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (m *MemoryGateway) Put(ctx context.Context, key string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = memDoc{data: clone(doc), version: m.docs[key].version + 1}
	return nil
}

func (m *MemoryGateway) Get(ctx context.Context, key string) ([]byte, error) {
	data, _, err := m.GetVersioned(ctx, key)
	return data, err
}

func (m *MemoryGateway) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[key]
	return ok, nil
}

func (m *MemoryGateway) GetVersioned(ctx context.Context, key string) ([]byte, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[key]
	if !ok {
		return nil, 0, ErrNotFound
	}
	return clone(d.data), d.version, nil
}

func (m *MemoryGateway) PutIfVersion(ctx context.Context, key string, doc []byte, expected int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.docs[key]
	if cur.version != expected {
		return cur.version, ErrConflict
	}
	next := memDoc{data: clone(doc), version: expected + 1}
	m.docs[key] = next
	return next.version, nil
}

func (m *MemoryGateway) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
