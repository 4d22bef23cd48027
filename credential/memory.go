package credential

import (
	"context"
	"sync"
)

// MemoryStore keeps credentials in process memory. It is the default backend
// and lives exactly as long as the process.
type MemoryStore struct {
	mu  sync.RWMutex
	rec Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, rec Record) error {
	if !rec.Present() {
		return ErrEmptyCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.rec.AccessToken = rec.AccessToken
	if rec.RefreshToken != "" {
		s.rec.RefreshToken = rec.RefreshToken
	}
	if rec.Identity != nil {
		id := *rec.Identity
		s.rec.Identity = &id
	}
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.rec = Record{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DropAccess(context.Context) error {
	s.mu.Lock()
	s.rec.AccessToken = ""
	s.mu.Unlock()
	return nil
}
