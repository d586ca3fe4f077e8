package vault

import (
	"context"
	"sync"
)

// MemoryBackend keeps records in process memory. Used by tests and the
// "memory" backend kind; nothing survives a restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]string
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]map[string]string)}
}

func (m *MemoryBackend) Get(ctx context.Context, service, account string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[service][account]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemoryBackend) Set(ctx context.Context, service, account, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.data[service]
	if !ok {
		svc = make(map[string]string)
		m.data[service] = svc
	}
	svc[account] = value
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, service, account string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	svc, ok := m.data[service]
	if !ok {
		return ErrNotFound
	}
	if _, ok := svc[account]; !ok {
		return ErrNotFound
	}
	delete(svc, account)
	if len(svc) == 0 {
		delete(m.data, service)
	}
	return nil
}

// Len returns the number of records under service.
func (m *MemoryBackend) Len(service string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data[service])
}
