package storage

import (
	"context"
	"errors"
	"sync"
)

var ErrObjectNotFound = errors.New("object not found")

// DocumentStore is binary object storage keyed by path. The backing store is
// assumed flaky: Download may return truncated or otherwise corrupt bytes, so
// callers validate payloads before trusting them.
type DocumentStore interface {
	Download(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
}

// MemoryDocumentStore keeps objects in memory for local development and tests.
type MemoryDocumentStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		objects: make(map[string][]byte),
	}
}

func (s *MemoryDocumentStore) Download(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[path]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryDocumentStore) Upload(_ context.Context, path string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[path] = append([]byte(nil), data...)
	return nil
}
