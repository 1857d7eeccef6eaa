package rbac

import (
	"context"
	"sync"
)

// MemoryStorage is the in-process Storage implementation, used for
// development and tests.
type MemoryStorage struct {
	mu          sync.Mutex
	roles       map[string]Role
	assignments map[string]UserAssignment // keyed by userId, most recent wins
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		roles:       make(map[string]Role),
		assignments: make(map[string]UserAssignment),
	}
}

func (s *MemoryStorage) SaveRole(_ context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.ID] = r
	return nil
}

func (s *MemoryStorage) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles, id)
	return nil
}

func (s *MemoryStorage) LoadRoles(_ context.Context) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	return out, nil
}

func (s *MemoryStorage) SaveAssignment(_ context.Context, a UserAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[a.UserID] = a
	return nil
}

func (s *MemoryStorage) LoadAssignments(_ context.Context) ([]UserAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	return out, nil
}
