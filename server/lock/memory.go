package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Lock for tests, mirroring Redis's
// acquire-once, release-by-token semantics without a network round trip.
type Memory struct {
	mu      sync.Mutex
	holders map[string]string
}

// NewMemory returns an empty Memory lock.
func NewMemory() *Memory {
	return &Memory{holders: make(map[string]string)}
}

func (m *Memory) TryAcquire(_ context.Context, key string, _ time.Duration) (bool, func(context.Context) error, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.holders[key]; held {
		return false, nil, nil
	}
	token := key + ":token"
	m.holders[key] = token

	release := func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.holders[key] == token {
			delete(m.holders, key)
		}
		return nil
	}
	return true, release, nil
}
