package idempotency

import (
	"context"
	"sync"
	"time"
)

// Memory implements Store with a mutex-guarded map, for development and
// tests. Claims are atomic within a single process only.
type Memory struct {
	mu     sync.Mutex
	claims map[string]time.Time // key -> expiry
	stop   chan struct{}
	once   sync.Once
}

// NewMemory creates an in-process claim store with a background janitor.
func NewMemory() *Memory {
	m := &Memory{
		claims: make(map[string]time.Time),
		stop:   make(chan struct{}),
	}
	go m.janitor()
	return m
}

// ClaimOnce claims key for ttl; first caller wins.
func (m *Memory) ClaimOnce(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if expiry, exists := m.claims[KeyPrefix+key]; exists && now.Before(expiry) {
		return false, nil
	}
	m.claims[KeyPrefix+key] = now.Add(ttl)
	return true, nil
}

// Close stops the janitor goroutine.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for key, expiry := range m.claims {
				if now.After(expiry) {
					delete(m.claims, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
