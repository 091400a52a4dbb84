package storage

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend keeps objects in process memory. Intended for tests and
// dry runs.
type MemoryBackend struct {
	mu   sync.RWMutex
	objs map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objs: make(map[string][]byte)}
}

// Put stores a copy of r's content under key.
func (m *MemoryBackend) Put(_ context.Context, key string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objs[key] = b
	m.mu.Unlock()
	return nil
}

// Get returns a reader over a copy of the object.
func (m *MemoryBackend) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	b, ok := m.objs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(key, nil)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), b...))), nil
}

// List returns the keys under prefix.
func (m *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Exists reports whether key is stored.
func (m *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.objs[key]
	m.mu.RUnlock()
	return ok, nil
}

// URI returns a mem:// location.
func (m *MemoryBackend) URI(key string) string { return "mem://" + key }

// Close is a no-op.
func (m *MemoryBackend) Close() error { return nil }
