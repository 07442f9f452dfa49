package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/iliyamo/linklink-server/internal/storage"
)

// Storage implements storage.Storage using an in-memory map.
type Storage struct {
	mu      sync.RWMutex
	files   map[string][]byte
	baseURL string

	// FailUpload, when set, is returned by every Upload.
	FailUpload error
}

// New creates a new in-memory storage instance.
func New(baseURL string) *Storage {
	return &Storage{
		files:   make(map[string][]byte),
		baseURL: baseURL,
	}
}

// Upload stores the file bytes in memory.
func (s *Storage) Upload(_ context.Context, input *storage.UploadInput) (*storage.UploadResult, error) {
	if s.FailUpload != nil {
		return nil, s.FailUpload
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, input.Data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[input.Key] = buf.Bytes()
	return &storage.UploadResult{Key: input.Key, URL: s.URL(input.Key), Size: n}, nil
}

// Delete removes a file from memory.
func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, key)
	return nil
}

// URL returns the URL for the given key.
func (s *Storage) URL(key string) string {
	return fmt.Sprintf("%s/%s", s.baseURL, key)
}

// Has reports whether key is stored.
func (s *Storage) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[key]
	return ok
}

// Len returns the number of stored files.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}
