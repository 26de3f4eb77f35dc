package session

import (
	"context"
	"sync"
)

// MemoryStore keeps tokens in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(ctx context.Context) (Tokens, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens, s.tokens.AccessToken != "", nil
}

func (s *MemoryStore) Set(ctx context.Context, tokens Tokens) error {
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context) error {
	s.mu.Lock()
	s.tokens = Tokens{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
