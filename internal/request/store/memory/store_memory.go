// Package memory is the in-memory request store used by unit tests and local
// runs. Conditional updates mirror the Postgres store's row-state checks under
// a single mutex.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"evidex/internal/request"
	id "evidex/pkg/domain"
	"evidex/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.RequestID]request.Request
	items    map[id.RequestItemID]request.RequestItem
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[id.RequestID]request.Request),
		items:    make(map[id.RequestItemID]request.RequestItem),
	}
}

func (s *InMemoryStore) CreateRequest(_ context.Context, r request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[r.ID]; exists {
		return sentinel.ErrConflict
	}
	items := r.Items
	r.Items = nil
	s.requests[r.ID] = r
	for _, item := range items {
		s.items[item.ID] = item
	}
	return nil
}

func (s *InMemoryStore) GetRequest(_ context.Context, requestID id.RequestID) (request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[requestID]
	if !ok {
		return request.Request{}, sentinel.ErrNotFound
	}
	r.Items = s.itemsOfLocked(requestID)
	return r, nil
}

// GetRequestForUpdate reads under the store mutex; writer serialization per
// request comes from the sharded transaction runner, so there is no separate
// row lock to take here.
func (s *InMemoryStore) GetRequestForUpdate(ctx context.Context, requestID id.RequestID) (request.Request, error) {
	return s.GetRequest(ctx, requestID)
}

func (s *InMemoryStore) GetItem(_ context.Context, itemID id.RequestItemID) (request.RequestItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return request.RequestItem{}, sentinel.ErrNotFound
	}
	return item, nil
}

func (s *InMemoryStore) ItemsOf(_ context.Context, requestID id.RequestID) ([]request.RequestItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemsOfLocked(requestID), nil
}

func (s *InMemoryStore) itemsOfLocked(requestID id.RequestID) []request.RequestItem {
	var items []request.RequestItem
	for _, item := range s.items {
		if item.Request == requestID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID.String() < items[j].ID.String()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

func (s *InMemoryStore) ListByBuyer(_ context.Context, buyer id.UserID) ([]request.Request, error) {
	return s.list(func(r request.Request) bool { return r.Buyer == buyer }), nil
}

func (s *InMemoryStore) ListByFactory(_ context.Context, factory id.UserID) ([]request.Request, error) {
	return s.list(func(r request.Request) bool { return r.Factory == factory }), nil
}

func (s *InMemoryStore) ListByFactoryAndStatus(_ context.Context, factory id.UserID, statuses []request.Status) ([]request.Request, error) {
	allowed := make(map[request.Status]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}
	return s.list(func(r request.Request) bool { return r.Factory == factory && allowed[r.Status] }), nil
}

func (s *InMemoryStore) ListAll(_ context.Context) ([]request.Request, error) {
	return s.list(func(request.Request) bool { return true }), nil
}

func (s *InMemoryStore) list(match func(request.Request) bool) []request.Request {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []request.Request
	for _, r := range s.requests {
		if match(r) {
			r.Items = s.itemsOfLocked(r.ID)
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *InMemoryStore) MarkItemFulfilled(_ context.Context, itemID id.RequestItemID, versionID id.VersionID, by id.UserID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if item.Status != request.ItemPending {
		return false, nil
	}
	item.Status = request.ItemFulfilled
	item.FulfillingVersion = &versionID
	item.FulfilledBy = &by
	item.FulfilledAt = &at
	item.UpdatedAt = at
	s.items[itemID] = item
	return true, nil
}

func (s *InMemoryStore) MarkItemRejected(_ context.Context, itemID id.RequestItemID, reason string, by id.UserID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	if item.Status != request.ItemPending {
		return false, nil
	}
	item.Status = request.ItemRejected
	item.RejectReason = reason
	item.FulfilledBy = &by
	item.FulfilledAt = &at
	item.UpdatedAt = at
	s.items[itemID] = item
	return true, nil
}

func (s *InMemoryStore) UpdateRequestStatus(_ context.Context, requestID id.RequestID, from []request.Status, to request.Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.requests[requestID]
	if !ok {
		return false, sentinel.ErrNotFound
	}
	matched := false
	for _, st := range from {
		if r.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = at
	s.requests[requestID] = r
	return true, nil
}
