package memory

import (
	"context"
	"sync"

	"evidex/internal/grant"
	id "evidex/pkg/domain"
)

type pairKey struct {
	version id.VersionID
	user    id.UserID
}

// InMemoryStore enforces the (version, user) uniqueness invariant with a
// single map under a mutex, mirroring what the Postgres unique constraint
// guarantees under race.
type InMemoryStore struct {
	mu     sync.RWMutex
	grants map[pairKey]grant.Grant
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{grants: make(map[pairKey]grant.Grant)}
}

func (s *InMemoryStore) Insert(_ context.Context, g grant.Grant) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey{version: g.Version, user: g.User}
	if _, exists := s.grants[key]; exists {
		return false, nil
	}
	s.grants[key] = g
	return true, nil
}

func (s *InMemoryStore) IsGranted(_ context.Context, version id.VersionID, user id.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.grants[pairKey{version: version, user: user}]
	return ok, nil
}

func (s *InMemoryStore) VersionsFor(_ context.Context, user id.UserID) ([]id.VersionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []id.VersionID
	for key := range s.grants {
		if key.user == user {
			out = append(out, key.version)
		}
	}
	return out, nil
}

// Count returns the number of grant rows. Test helper.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}
