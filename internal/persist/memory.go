package persist

import (
	"context"
	"sync"
)

// Ensure Memory implements the interface.
var _ Adapter = (*Memory)(nil)

// Memory is an in-memory Adapter. Nothing survives process exit.
type Memory struct {
	mu     sync.RWMutex
	items  map[string]string
	closed bool
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]string)}
}

// GetItem implements Adapter.GetItem.
func (m *Memory) GetItem(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return "", false, &Error{Op: "get", Key: key, Err: ErrClosed}
	}
	v, ok := m.items[key]
	return v, ok, nil
}

// SetItem implements Adapter.SetItem.
func (m *Memory) SetItem(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &Error{Op: "set", Key: key, Err: ErrClosed}
	}
	m.items[key] = value
	return nil
}

// RemoveItem implements Adapter.RemoveItem.
func (m *Memory) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return &Error{Op: "remove", Key: key, Err: ErrClosed}
	}
	delete(m.items, key)
	return nil
}

// Close implements Adapter.Close.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
