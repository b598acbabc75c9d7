package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evidex/internal/audit"
	auditmemory "evidex/internal/audit/store/memory"
	"evidex/internal/evidence"
	evidencememory "evidex/internal/evidence/store/memory"
	"evidex/internal/grant"
	grantmemory "evidex/internal/grant/store/memory"
	"evidex/internal/request"
	requestmemory "evidex/internal/request/store/memory"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
)

// The fulfillment workflow couples the item state machine, the grant ledger,
// and audit emission inside one transactional boundary; these tests exercise
// that coupling directly against the in-memory stores.

type RequestServiceSuite struct {
	suite.Suite
	requests   *requestmemory.InMemoryStore
	evidences  *evidencememory.InMemoryStore
	grants     *grantmemory.InMemoryStore
	auditStore *auditmemory.InMemoryStore
	service    *Service

	factory id.Actor
	buyer   id.Actor
}

func TestRequestServiceSuite(t *testing.T) {
	suite.Run(t, new(RequestServiceSuite))
}

func (s *RequestServiceSuite) SetupTest() {
	s.requests = requestmemory.NewInMemoryStore()
	s.evidences = evidencememory.NewInMemoryStore()
	s.grants = grantmemory.NewInMemoryStore()
	s.auditStore = auditmemory.NewInMemoryStore()

	recorder := audit.NewRecorder(s.auditStore)
	ledger := grant.NewLedger(s.grants, recorder)
	s.service = NewService(s.requests, s.evidences, ledger, recorder, NewShardedTx(8))

	s.factory = id.Actor{ID: id.NewUserID(), Role: id.RoleFactory}
	s.buyer = id.Actor{ID: id.NewUserID(), Role: id.RoleBuyer}
}

func (s *RequestServiceSuite) seedVersion(owner id.UserID, docType id.DocType) evidence.Version {
	ctx := context.Background()
	e := evidence.Evidence{
		ID:        id.NewEvidenceID(),
		Name:      "cert",
		DocType:   docType,
		Factory:   owner,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.Require().NoError(s.evidences.CreateEvidence(ctx, e))
	v, err := s.evidences.AddVersion(ctx, evidence.Version{
		ID:        id.NewVersionID(),
		Evidence:  e.ID,
		FileRef:   "s3://docs/cert.pdf",
		CreatedAt: time.Now(),
		CreatedBy: owner,
	})
	s.Require().NoError(err)
	return v
}

func (s *RequestServiceSuite) createRequest(docTypes ...id.DocType) request.Request {
	r, err := s.service.Create(context.Background(), s.buyer, s.factory.ID, "audit pack", docTypes)
	s.Require().NoError(err)
	return r
}

func (s *RequestServiceSuite) auditActions() []audit.Action {
	var actions []audit.Action
	for _, rec := range s.auditStore.All() {
		actions = append(actions, rec.Action)
	}
	return actions
}

// =============================================================================
// Create
// =============================================================================

func (s *RequestServiceSuite) TestCreate() {
	ctx := context.Background()

	s.Run("buyer creates pending request with pending items", func() {
		r := s.createRequest("iso9001", "reach")
		s.Equal(request.StatusPending, r.Status)
		s.Len(r.Items, 2)
		for _, item := range r.Items {
			s.Equal(request.ItemPending, item.Status)
		}
		s.Contains(s.auditActions(), audit.ActionRequestCreated)
	})

	s.Run("factory cannot create requests", func() {
		_, err := s.service.Create(ctx, s.factory, s.factory.ID, "pack", []id.DocType{"iso9001"})
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("empty item list is rejected", func() {
		_, err := s.service.Create(ctx, s.buyer, s.factory.ID, "pack", nil)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("empty title is rejected", func() {
		_, err := s.service.Create(ctx, s.buyer, s.factory.ID, "", []id.DocType{"iso9001"})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

// =============================================================================
// Fulfill
// =============================================================================

func (s *RequestServiceSuite) TestFulfillHappyPath() {
	ctx := context.Background()
	v := s.seedVersion(s.factory.ID, "iso9001")
	r := s.createRequest("iso9001", "reach")

	before := len(s.auditStore.All())

	updated, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
	s.Require().NoError(err)

	s.Equal(request.StatusInProgress, updated.Status)
	s.Equal(request.ItemFulfilled, updated.Items[0].Status)
	s.Require().NotNil(updated.Items[0].FulfillingVersion)
	s.Equal(v.ID, *updated.Items[0].FulfillingVersion)

	granted, err := s.grants.IsGranted(ctx, v.ID, s.buyer.ID)
	s.Require().NoError(err)
	s.True(granted)

	// Exactly two records: the item transition and the grant it created.
	records := s.auditStore.All()[before:]
	s.Require().Len(records, 2)
	actions := map[audit.Action]bool{}
	for _, rec := range records {
		actions[rec.Action] = true
		s.Equal(s.factory.ID, rec.Actor)
	}
	s.True(actions[audit.ActionItemFulfilled])
	s.True(actions[audit.ActionGrantCreated])
}

func (s *RequestServiceSuite) TestFulfillCompletesRequest() {
	ctx := context.Background()
	v1 := s.seedVersion(s.factory.ID, "iso9001")
	v2 := s.seedVersion(s.factory.ID, "reach")
	r := s.createRequest("iso9001", "reach")

	_, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v1.ID)
	s.Require().NoError(err)
	updated, err := s.service.Fulfill(ctx, s.factory, r.Items[1].ID, v2.ID)
	s.Require().NoError(err)

	s.Equal(request.StatusCompleted, updated.Status)
}

func (s *RequestServiceSuite) TestFulfillDocTypeMismatch() {
	ctx := context.Background()
	v := s.seedVersion(s.factory.ID, "reach")
	r := s.createRequest("iso9001")

	before := len(s.auditStore.All())
	grantsBefore := s.grants.Count()

	_, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeTypeMismatch))

	// Nothing moved: item pending, no grant, no audit.
	item, err := s.requests.GetItem(ctx, r.Items[0].ID)
	s.Require().NoError(err)
	s.Equal(request.ItemPending, item.Status)
	s.Equal(grantsBefore, s.grants.Count())
	s.Len(s.auditStore.All(), before)
}

func (s *RequestServiceSuite) TestFulfillAuthorization() {
	ctx := context.Background()
	v := s.seedVersion(s.factory.ID, "iso9001")
	r := s.createRequest("iso9001")

	s.Run("another factory is denied", func() {
		other := id.Actor{ID: id.NewUserID(), Role: id.RoleFactory}
		_, err := s.service.Fulfill(ctx, other, r.Items[0].ID, v.ID)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("buyer cannot fulfill", func() {
		_, err := s.service.Fulfill(ctx, s.buyer, r.Items[0].ID, v.ID)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("foreign version is denied even for the assigned factory", func() {
		foreign := s.seedVersion(id.NewUserID(), "iso9001")
		_, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, foreign.ID)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("unknown version is not found", func() {
		_, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, id.NewVersionID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *RequestServiceSuite) TestFulfillNonPendingItem() {
	ctx := context.Background()
	v := s.seedVersion(s.factory.ID, "iso9001")
	r := s.createRequest("iso9001")

	_, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
	s.Require().NoError(err)

	_, err = s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *RequestServiceSuite) TestFulfillCancelledRequest() {
	ctx := context.Background()
	v := s.seedVersion(s.factory.ID, "iso9001")
	r := s.createRequest("iso9001")

	_, err := s.service.Cancel(ctx, s.buyer, r.ID)
	s.Require().NoError(err)

	_, err = s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func (s *RequestServiceSuite) TestFulfillReusedVersionGrantsOnce() {
	ctx := context.Background()
	v := s.seedVersion(s.factory.ID, "iso9001")
	r := s.createRequest("iso9001", "iso9001")

	_, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
	s.Require().NoError(err)
	before := len(s.auditStore.All())

	updated, err := s.service.Fulfill(ctx, s.factory, r.Items[1].ID, v.ID)
	s.Require().NoError(err)

	// The buyer already held the grant: the second fulfillment succeeds,
	// records only the item transition, and leaves a single grant row.
	s.Equal(request.StatusCompleted, updated.Status)
	s.Equal(1, s.grants.Count())
	records := s.auditStore.All()[before:]
	s.Require().Len(records, 1)
	s.Equal(audit.ActionItemFulfilled, records[0].Action)
}

func (s *RequestServiceSuite) TestConcurrentFulfill() {
	ctx := context.Background()
	v1 := s.seedVersion(s.factory.ID, "iso9001")
	v2 := s.seedVersion(s.factory.ID, "iso9001")
	r := s.createRequest("iso9001")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, versionID := range []id.VersionID{v1.ID, v2.ID} {
		wg.Add(1)
		go func(i int, versionID id.VersionID) {
			defer wg.Done()
			_, errs[i] = s.service.Fulfill(ctx, s.factory, r.Items[0].ID, versionID)
		}(i, versionID)
	}
	wg.Wait()

	// Exactly one writer wins; the loser observes an invalid state.
	if errs[0] == nil {
		s.True(dErrors.HasCode(errs[1], dErrors.CodeInvalidState))
	} else {
		s.Require().NoError(errs[1])
		s.True(dErrors.HasCode(errs[0], dErrors.CodeInvalidState))
	}

	item, err := s.requests.GetItem(ctx, r.Items[0].ID)
	s.Require().NoError(err)
	s.Equal(request.ItemFulfilled, item.Status)
	s.Equal(1, s.grants.Count())
}

// =============================================================================
// Reject
// =============================================================================

func (s *RequestServiceSuite) TestReject() {
	ctx := context.Background()

	s.Run("reason is mandatory", func() {
		r := s.createRequest("iso9001")
		_, err := s.service.Reject(ctx, s.factory, r.Items[0].ID, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("rejection records the reason and creates no grant", func() {
		r := s.createRequest("iso9001", "reach")
		grantsBefore := s.grants.Count()

		updated, err := s.service.Reject(ctx, s.factory, r.Items[0].ID, "document expired")
		s.Require().NoError(err)

		s.Equal(request.StatusInProgress, updated.Status)
		s.Equal(request.ItemRejected, updated.Items[0].Status)
		s.Equal("document expired", updated.Items[0].RejectReason)
		s.Equal(grantsBefore, s.grants.Count())
		s.Contains(s.auditActions(), audit.ActionItemRejected)
	})

	s.Run("rejecting every item completes the request", func() {
		r := s.createRequest("iso9001", "reach")
		_, err := s.service.Reject(ctx, s.factory, r.Items[0].ID, "expired")
		s.Require().NoError(err)
		updated, err := s.service.Reject(ctx, s.factory, r.Items[1].ID, "not applicable")
		s.Require().NoError(err)
		s.Equal(request.StatusCompleted, updated.Status)
	})

	s.Run("rejected item cannot be fulfilled afterwards", func() {
		v := s.seedVersion(s.factory.ID, "iso9001")
		r := s.createRequest("iso9001")
		_, err := s.service.Reject(ctx, s.factory, r.Items[0].ID, "expired")
		s.Require().NoError(err)
		_, err = s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

// =============================================================================
// Cancel
// =============================================================================

func (s *RequestServiceSuite) TestCancel() {
	ctx := context.Background()

	s.Run("buyer cancels own request", func() {
		r := s.createRequest("iso9001")
		updated, err := s.service.Cancel(ctx, s.buyer, r.ID)
		s.Require().NoError(err)
		s.Equal(request.StatusCancelled, updated.Status)
		s.Contains(s.auditActions(), audit.ActionRequestCancelled)
	})

	s.Run("factory cannot cancel", func() {
		r := s.createRequest("iso9001")
		_, err := s.service.Cancel(ctx, s.factory, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("another buyer cannot cancel", func() {
		r := s.createRequest("iso9001")
		other := id.Actor{ID: id.NewUserID(), Role: id.RoleBuyer}
		_, err := s.service.Cancel(ctx, other, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodePermissionDenied))
	})

	s.Run("completed request cannot be cancelled", func() {
		v := s.seedVersion(s.factory.ID, "iso9001")
		r := s.createRequest("iso9001")
		_, err := s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
		s.Require().NoError(err)
		_, err = s.service.Cancel(ctx, s.buyer, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

// =============================================================================
// Reads
// =============================================================================

func (s *RequestServiceSuite) TestGetAndList() {
	ctx := context.Background()
	r := s.createRequest("iso9001")

	s.Run("parties and admin can read", func() {
		for _, actor := range []id.Actor{s.buyer, s.factory, {ID: id.NewUserID(), Role: id.RoleAdmin}} {
			got, err := s.service.Get(ctx, actor, r.ID)
			s.Require().NoError(err)
			s.Equal(r.ID, got.ID)
		}
	})

	s.Run("strangers are denied", func() {
		stranger := id.Actor{ID: id.NewUserID(), Role: id.RoleBuyer}
		_, err := s.service.Get(ctx, stranger, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
	})

	s.Run("listings are scoped by role", func() {
		mine, err := s.service.ListForActor(ctx, s.buyer)
		s.Require().NoError(err)
		s.Len(mine, 1)

		stranger := id.Actor{ID: id.NewUserID(), Role: id.RoleBuyer}
		none, err := s.service.ListForActor(ctx, stranger)
		s.Require().NoError(err)
		s.Empty(none)
	})

	s.Run("pending queue drains as items close", func() {
		queue, err := s.service.PendingForFactory(ctx, s.factory)
		s.Require().NoError(err)
		s.Len(queue, 1)

		v := s.seedVersion(s.factory.ID, "iso9001")
		_, err = s.service.Fulfill(ctx, s.factory, r.Items[0].ID, v.ID)
		s.Require().NoError(err)

		queue, err = s.service.PendingForFactory(ctx, s.factory)
		s.Require().NoError(err)
		s.Empty(queue)
	})
}
