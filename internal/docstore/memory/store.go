// Package memory contains an in-process document store used by tests
// and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fscwatch/harvester/internal/docstore"
)

// Store keeps uploaded payloads and registrations in memory. Failure
// injection fields let tests drive the uploader's retry paths.
type Store struct {
	mu sync.Mutex

	stores   map[string]string // display name -> store id
	files    map[string][]byte // file id -> payload
	names    map[string]string // file id -> display name
	register map[string][]string

	nextID int

	// UploadFailures causes the next N UploadBytes calls to fail.
	UploadFailures int
	// RegisterFailures causes the next N AddToStore calls to fail.
	RegisterFailures int
	// FailDisplayNames fails every upload for the named documents.
	FailDisplayNames map[string]bool

	UploadCalls   int
	RegisterCalls int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		stores:   make(map[string]string),
		files:    make(map[string][]byte),
		names:    make(map[string]string),
		register: make(map[string][]string),
	}
}

// GetOrCreateStore returns a stable id per display name.
func (s *Store) GetOrCreateStore(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.stores[name]; ok {
		return id, nil
	}
	s.nextID++
	id := fmt.Sprintf("stores/mem-%d", s.nextID)
	s.stores[name] = id
	return id, nil
}

// UploadBytes stores the payload and returns a file handle.
func (s *Store) UploadBytes(_ context.Context, payload []byte, displayName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UploadCalls++
	if s.FailDisplayNames[displayName] {
		return "", fmt.Errorf("upload rejected: %s", displayName)
	}
	if s.UploadFailures > 0 {
		s.UploadFailures--
		return "", fmt.Errorf("transient upload failure")
	}
	s.nextID++
	id := fmt.Sprintf("files/mem-%d", s.nextID)
	s.files[id] = append([]byte(nil), payload...)
	s.names[id] = displayName
	return id, nil
}

// AddToStore registers the file into the store.
func (s *Store) AddToStore(_ context.Context, storeID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RegisterCalls++
	if s.RegisterFailures > 0 {
		s.RegisterFailures--
		return fmt.Errorf("transient register failure")
	}
	if _, ok := s.files[fileID]; !ok {
		return fmt.Errorf("unknown file id %s", fileID)
	}
	s.register[storeID] = append(s.register[storeID], fileID)
	return nil
}

// ListFiles returns the files registered in the store.
func (s *Store) ListFiles(_ context.Context, storeID string) ([]docstore.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]docstore.FileInfo, 0, len(s.register[storeID]))
	for _, id := range s.register[storeID] {
		out = append(out, docstore.FileInfo{ID: id, DisplayName: s.names[id]})
	}
	return out, nil
}

// Payload returns the stored bytes for a file handle.
func (s *Store) Payload(fileID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.files[fileID]
	return payload, ok
}

var _ docstore.Store = (*Store)(nil)
