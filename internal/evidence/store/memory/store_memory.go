package memory

import (
	"context"
	"sort"
	"sync"

	"evidex/internal/evidence"
	id "evidex/pkg/domain"
	"evidex/pkg/platform/sentinel"
)

// InMemoryStore backs unit tests and local runs. Version numbers are assigned
// under the store mutex, matching the uniqueness the Postgres constraint
// provides.
type InMemoryStore struct {
	mu       sync.RWMutex
	evidence map[id.EvidenceID]evidence.Evidence
	versions map[id.VersionID]evidence.Version
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		evidence: make(map[id.EvidenceID]evidence.Evidence),
		versions: make(map[id.VersionID]evidence.Version),
	}
}

func (s *InMemoryStore) CreateEvidence(_ context.Context, e evidence.Evidence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.evidence[e.ID]; exists {
		return sentinel.ErrConflict
	}
	s.evidence[e.ID] = e
	return nil
}

func (s *InMemoryStore) GetEvidence(_ context.Context, evidenceID id.EvidenceID) (evidence.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.evidence[evidenceID]
	if !ok {
		return evidence.Evidence{}, sentinel.ErrNotFound
	}
	return e, nil
}

func (s *InMemoryStore) ListByFactory(_ context.Context, factory id.UserID) ([]evidence.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []evidence.Evidence
	for _, e := range s.evidence {
		if e.Factory == factory {
			out = append(out, e)
		}
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]evidence.Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]evidence.Evidence, 0, len(s.evidence))
	for _, e := range s.evidence {
		out = append(out, e)
	}
	sortByCreatedDesc(out)
	return out, nil
}

func (s *InMemoryStore) AddVersion(_ context.Context, v evidence.Version) (evidence.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.evidence[v.Evidence]; !ok {
		return evidence.Version{}, sentinel.ErrNotFound
	}
	next := 1
	for _, existing := range s.versions {
		if existing.Evidence == v.Evidence && existing.VersionNumber >= next {
			next = existing.VersionNumber + 1
		}
	}
	v.VersionNumber = next
	s.versions[v.ID] = v
	return v, nil
}

func (s *InMemoryStore) GetVersion(_ context.Context, versionID id.VersionID) (evidence.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.versions[versionID]
	if !ok {
		return evidence.Version{}, sentinel.ErrNotFound
	}
	return v, nil
}

func (s *InMemoryStore) VersionsOf(_ context.Context, evidenceID id.EvidenceID) ([]evidence.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []evidence.Version
	for _, v := range s.versions {
		if v.Evidence == evidenceID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].VersionNumber > out[j].VersionNumber
	})
	return out, nil
}

func sortByCreatedDesc(out []evidence.Evidence) {
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
}
