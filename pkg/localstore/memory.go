package localstore

import (
	"context"
	"sync"
)

// Memory is a process-local Store. It backs tests and hosts that keep the
// cart only for the lifetime of the process.
type Memory struct {
	mu    sync.RWMutex
	slots map[string]string
	// FailPut, when set, is returned by Put without writing.
	FailPut error
}

func NewMemory() *Memory {
	return &Memory{slots: map[string]string{}}
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.slots[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Put(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return m.FailPut
	}
	m.slots[key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}
