package auth

import (
	"context"
	"sync"
)

// MemoryApiKeyStore is the in-process ApiKeyStore, used for development
// and tests.
type MemoryApiKeyStore struct {
	mu   sync.Mutex
	byID map[string]ApiKey
}

func NewMemoryApiKeyStore() *MemoryApiKeyStore {
	return &MemoryApiKeyStore{byID: make(map[string]ApiKey)}
}

func (s *MemoryApiKeyStore) Save(_ context.Context, key ApiKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[key.ID] = key
	return nil
}

func (s *MemoryApiKeyStore) FindByHash(_ context.Context, hash string) (*ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.byID {
		if k.Hash == hash {
			found := k
			return &found, nil
		}
	}
	return nil, nil
}

func (s *MemoryApiKeyStore) FindByID(_ context.Context, id string) (*ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (s *MemoryApiKeyStore) List(_ context.Context, userID string) ([]ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ApiKey
	for _, k := range s.byID {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	return out, nil
}
