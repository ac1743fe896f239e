package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider keeps objects in a map. It backs tests and runs without S3.
type MemoryProvider struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// Object is a stored blob.
type Object struct {
	Data        []byte
	ContentType string
}

var _ Provider = (*MemoryProvider)(nil)

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{objects: make(map[string]Object)}
}

func (m *MemoryProvider) CheckBucket(context.Context) error { return nil }

func (m *MemoryProvider) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	return nil
}

func (m *MemoryProvider) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return "memory://" + key, nil
}

// Get returns a stored object.
func (m *MemoryProvider) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	return o, ok
}

// Len returns the number of stored objects.
func (m *MemoryProvider) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
