package objectstore

import (
	"context"
	"strings"
	"sync"
)

const memoryScheme = "mem://"

// MemoryStore keeps objects in a map; URLs have the form mem://<key>
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (s *MemoryStore) Upload(ctx context.Context, data []byte, opts UploadOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key, err := sanitizeKey(opts.Key)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = opts.ContentType

	return memoryScheme + key, nil
}

func (s *MemoryStore) Download(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, memoryScheme) {
		return nil, ErrNotOwned
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[strings.TrimPrefix(url, memoryScheme)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Keys lists stored keys
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}

// ContentType returns the content type recorded for key
func (s *MemoryStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[key]
}
