// Package syncstore persists the remote sync snapshot in a key/value store
// whose values are size-limited, splitting the payload across chunk keys.
package syncstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MaxItemBytes is the largest key plus value a KV accepts
const MaxItemBytes = 8192

// ErrValueTooLarge is returned when an item exceeds MaxItemBytes
var ErrValueTooLarge = errors.New("value exceeds per-item size limit")

// KV is a remote key/value store with a per-item size limit
type KV interface {
	// Get returns the values for the keys that exist. Missing keys are
	// absent from the result.
	Get(ctx context.Context, keys []string) (map[string]string, error)
	Set(ctx context.Context, items map[string]string) error
	Remove(ctx context.Context, keys []string) error
}

func checkItem(key, value string) error {
	if n := len(key) + len(value); n > MaxItemBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrValueTooLarge, key, n)
	}
	return nil
}

// MemoryKV is an in-process KV
type MemoryKV struct {
	mu    sync.Mutex
	items map[string]string
}

// NewMemoryKV creates an empty in-memory KV
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string]string)}
}

func (m *MemoryKV) Get(_ context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := m.items[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, items map[string]string) error {
	for k, v := range items {
		if err := checkItem(k, v); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.items[k] = v
	}
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.items, k)
	}
	return nil
}

// Keys returns every stored key
func (m *MemoryKV) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.items))
	for k := range m.items {
		out = append(out, k)
	}
	return out
}
