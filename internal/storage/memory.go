package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryGateway keeps every map in process memory. It is safe for
// concurrent use and is meant for tests and single-instance runs.
type MemoryGateway struct {
	mu   sync.RWMutex
	maps map[string]map[string]string
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{maps: make(map[string]map[string]string)}
}

func (m *MemoryGateway) FieldGet(_ context.Context, mapName, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.maps[mapName][field]
	return v, ok, nil
}

// FieldGetAll returns a copy of the map.
func (m *MemoryGateway) FieldGetAll(_ context.Context, mapName string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.maps[mapName]))
	for k, v := range m.maps[mapName] {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryGateway) FieldSet(_ context.Context, mapName, field, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hash(mapName)[field] = value
	return nil
}

func (m *MemoryGateway) FieldSetIfAbsent(_ context.Context, mapName, field, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.hash(mapName)
	if _, exists := h[field]; exists {
		return false, nil
	}
	h[field] = value
	return true, nil
}

func (m *MemoryGateway) IncrementWithCeiling(_ context.Context, mapName, field string, ceiling int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cur int64
	if raw, ok := m.maps[mapName][field]; ok {
		n, err := ParseCount(raw)
		if err != nil {
			return 0, false, fmt.Errorf("field %s/%s: %w", mapName, field, err)
		}
		cur = n
	}
	if cur >= ceiling {
		return cur, false, nil
	}
	cur++
	m.hash(mapName)[field] = strconv.FormatInt(cur, 10)
	return cur, true, nil
}

func (m *MemoryGateway) Ping(context.Context) error { return nil }

func (m *MemoryGateway) Close() error { return nil }

// hash returns the named map, creating it. Callers hold the write lock.
func (m *MemoryGateway) hash(mapName string) map[string]string {
	h, ok := m.maps[mapName]
	if !ok {
		h = make(map[string]string)
		m.maps[mapName] = h
	}
	return h
}
