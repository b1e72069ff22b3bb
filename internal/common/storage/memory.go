package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryStorage keeps objects in process. Used when no object store is configured.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

func (m *MemoryStorage) PutObject(_ context.Context, bucket, objectKey string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[bucket+"/"+objectKey] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) GetObject(_ context.Context, bucket, objectKey string) (io.ReadCloser, error) {
	m.mu.RLock()
	obj, ok := m.objects[bucket+"/"+objectKey]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj)), nil
}

func (m *MemoryStorage) RemoveObjects(_ context.Context, bucket string, keys []string) error {
	m.mu.Lock()
	for _, key := range keys {
		delete(m.objects, bucket+"/"+key)
	}
	m.mu.Unlock()
	return nil
}

var _ ObjectStorage = (*MemoryStorage)(nil)
