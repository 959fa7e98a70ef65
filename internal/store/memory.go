package store

import (
	"context"
	"sync"
)

type Memory struct {
	mu    sync.RWMutex
	slots map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{slots: make(map[string][]byte)}
}

func memoryKey(sid string, slot Slot) string {
	return sid + "/" + string(slot)
}

func (m *Memory) Get(_ context.Context, sid string, slot Slot) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.slots[memoryKey(sid, slot)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *Memory) Set(_ context.Context, sid string, slot Slot, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.slots[memoryKey(sid, slot)] = append([]byte(nil), data...)
	return nil
}

func (m *Memory) Delete(_ context.Context, sid string, slot Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.slots, memoryKey(sid, slot))
	return nil
}

func (m *Memory) Close() error {
	return nil
}
