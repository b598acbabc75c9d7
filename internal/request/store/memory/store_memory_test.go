package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evidex/internal/request"
	id "evidex/pkg/domain"
	"evidex/pkg/platform/sentinel"
)

type RequestMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestRequestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(RequestMemoryStoreSuite))
}

func (s *RequestMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func (s *RequestMemoryStoreSuite) seed(itemCount int) request.Request {
	now := time.Now()
	r := request.Request{
		ID:        id.NewRequestID(),
		Title:     "audit pack",
		Buyer:     id.NewUserID(),
		Factory:   id.NewUserID(),
		Status:    request.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i := 0; i < itemCount; i++ {
		r.Items = append(r.Items, request.RequestItem{
			ID:        id.NewRequestItemID(),
			Request:   r.ID,
			DocType:   "iso9001",
			Status:    request.ItemPending,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
			UpdatedAt: now,
		})
	}
	s.Require().NoError(s.store.CreateRequest(context.Background(), r))
	return r
}

func (s *RequestMemoryStoreSuite) TestGetRequestLoadsItems() {
	ctx := context.Background()
	r := s.seed(3)

	got, err := s.store.GetRequest(ctx, r.ID)
	s.Require().NoError(err)
	s.Len(got.Items, 3)
	// Creation order.
	for i, item := range got.Items {
		s.Equal(r.Items[i].ID, item.ID)
	}

	_, err = s.store.GetRequest(ctx, id.NewRequestID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RequestMemoryStoreSuite) TestMarkItemFulfilledIsConditional() {
	ctx := context.Background()
	r := s.seed(1)
	v := id.NewVersionID()
	by := id.NewUserID()

	moved, err := s.store.MarkItemFulfilled(ctx, r.Items[0].ID, v, by, time.Now())
	s.Require().NoError(err)
	s.True(moved)

	moved, err = s.store.MarkItemFulfilled(ctx, r.Items[0].ID, v, by, time.Now())
	s.Require().NoError(err)
	s.False(moved)

	item, err := s.store.GetItem(ctx, r.Items[0].ID)
	s.Require().NoError(err)
	s.Equal(request.ItemFulfilled, item.Status)
	s.Require().NotNil(item.FulfillingVersion)
	s.Equal(v, *item.FulfillingVersion)
}

func (s *RequestMemoryStoreSuite) TestMarkItemRejectedIsConditional() {
	ctx := context.Background()
	r := s.seed(1)
	by := id.NewUserID()

	moved, err := s.store.MarkItemRejected(ctx, r.Items[0].ID, "expired", by, time.Now())
	s.Require().NoError(err)
	s.True(moved)

	moved, err = s.store.MarkItemFulfilled(ctx, r.Items[0].ID, id.NewVersionID(), by, time.Now())
	s.Require().NoError(err)
	s.False(moved)

	item, err := s.store.GetItem(ctx, r.Items[0].ID)
	s.Require().NoError(err)
	s.Equal(request.ItemRejected, item.Status)
	s.Equal("expired", item.RejectReason)
}

func (s *RequestMemoryStoreSuite) TestConcurrentMarkOneWinner() {
	ctx := context.Background()
	r := s.seed(1)

	const writers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			moved, err := s.store.MarkItemFulfilled(ctx, r.Items[0].ID, id.NewVersionID(), id.NewUserID(), time.Now())
			s.NoError(err)
			wins <- moved
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for moved := range wins {
		if moved {
			won++
		}
	}
	s.Equal(1, won)
}

func (s *RequestMemoryStoreSuite) TestUpdateRequestStatusGuardsFromSet() {
	ctx := context.Background()
	r := s.seed(1)

	moved, err := s.store.UpdateRequestStatus(ctx, r.ID,
		[]request.Status{request.StatusInProgress}, request.StatusCompleted, time.Now())
	s.Require().NoError(err)
	s.False(moved)

	moved, err = s.store.UpdateRequestStatus(ctx, r.ID,
		[]request.Status{request.StatusPending}, request.StatusCancelled, time.Now())
	s.Require().NoError(err)
	s.True(moved)

	got, err := s.store.GetRequest(ctx, r.ID)
	s.Require().NoError(err)
	s.Equal(request.StatusCancelled, got.Status)
}

func (s *RequestMemoryStoreSuite) TestListScopes() {
	ctx := context.Background()
	a := s.seed(1)
	b := s.seed(1)

	byBuyer, err := s.store.ListByBuyer(ctx, a.Buyer)
	s.Require().NoError(err)
	s.Len(byBuyer, 1)
	s.Equal(a.ID, byBuyer[0].ID)

	byFactory, err := s.store.ListByFactory(ctx, b.Factory)
	s.Require().NoError(err)
	s.Len(byFactory, 1)

	open, err := s.store.ListByFactoryAndStatus(ctx, a.Factory,
		[]request.Status{request.StatusPending, request.StatusInProgress})
	s.Require().NoError(err)
	s.Len(open, 1)

	_, err = s.store.UpdateRequestStatus(ctx, a.ID,
		[]request.Status{request.StatusPending}, request.StatusCancelled, time.Now())
	s.Require().NoError(err)

	open, err = s.store.ListByFactoryAndStatus(ctx, a.Factory,
		[]request.Status{request.StatusPending, request.StatusInProgress})
	s.Require().NoError(err)
	s.Empty(open)

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Len(all, 2)
}
