package relay

import "sync"

// Store holds the single shared content value. Writes are last-write-wins.
type Store struct {
	mu      sync.RWMutex
	content string
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

func (s *Store) Set(content string) {
	s.mu.Lock()
	s.content = content
	s.mu.Unlock()
}
