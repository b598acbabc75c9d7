package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"evidex/internal/audit"
	"evidex/internal/audit/handler/mocks"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
	"evidex/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/audit-mocks.go -package=mocks Reader
type AuditHandlerSuite struct {
	suite.Suite
	admin   id.Actor
	factory id.Actor
}

func TestAuditHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuditHandlerSuite))
}

func (s *AuditHandlerSuite) SetupSuite() {
	s.admin = id.Actor{ID: id.NewUserID(), Role: id.RoleAdmin}
	s.factory = id.Actor{ID: id.NewUserID(), Role: id.RoleFactory}
}

func newTestHandler(t *testing.T) (*Handler, *mocks.MockReader) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockReader := mocks.NewMockReader(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(mockReader, logger, nil, nil), mockReader
}

func sampleRecord(actor id.Actor, action audit.Action) audit.Record {
	return audit.Record{
		ID:          uuid.New(),
		Actor:       actor.ID,
		ActorRole:   actor.Role,
		Action:      action,
		SubjectType: audit.SubjectRequestItem,
		SubjectID:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Metadata:    map[string]any{"doc_type": "iso9001"},
	}
}

func (s *AuditHandlerSuite) TestList() {
	s.Run("non-admin is refused before any read", func() {
		h, _ := newTestHandler(s.T())

		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit")
		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.WithActor(req, s.factory.ID.String(), s.factory.Role))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, string(dErrors.CodePermissionDenied))
	})

	s.Run("admin reads recent records with the default limit", func() {
		h, reader := newTestHandler(s.T())
		rec := sampleRecord(s.factory, audit.ActionItemFulfilled)

		reader.EXPECT().ListRecent(gomock.Any(), 100).Return([]audit.Record{rec}, nil)

		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit")
		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.WithActor(req, s.admin.ID.String(), s.admin.Role))

		testutil.AssertStatusOK(s.T(), rr)
		out := testutil.UnmarshalResponse[[]map[string]any](s.T(), rr)
		s.Require().Len(*out, 1)
		s.Equal(string(audit.ActionItemFulfilled), (*out)[0]["action"])
		s.Equal(rec.Actor.String(), (*out)[0]["actor_id"])
	})

	s.Run("explicit limit is honored", func() {
		h, reader := newTestHandler(s.T())

		reader.EXPECT().ListRecent(gomock.Any(), 5).Return(nil, nil)

		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit?limit=5")
		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.WithActor(req, s.admin.ID.String(), s.admin.Role))

		testutil.AssertStatusOK(s.T(), rr)
		s.JSONEq("[]", rr.Body.String())
	})

	s.Run("non-positive limit is rejected", func() {
		h, _ := newTestHandler(s.T())

		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit?limit=0")
		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.WithActor(req, s.admin.ID.String(), s.admin.Role))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("actor filter routes to ListByActor", func() {
		h, reader := newTestHandler(s.T())
		rec := sampleRecord(s.factory, audit.ActionEvidenceCreated)

		reader.EXPECT().ListByActor(gomock.Any(), s.factory.ID).Return([]audit.Record{rec}, nil)

		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit?actor_id="+s.factory.ID.String())
		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.WithActor(req, s.admin.ID.String(), s.admin.Role))

		testutil.AssertStatusOK(s.T(), rr)
		out := testutil.UnmarshalResponse[[]map[string]any](s.T(), rr)
		s.Require().Len(*out, 1)
		s.Equal(s.factory.ID.String(), (*out)[0]["actor_id"])
	})

	s.Run("malformed actor filter is rejected", func() {
		h, _ := newTestHandler(s.T())

		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit?actor_id=not-a-uuid")
		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.WithActor(req, s.admin.ID.String(), s.admin.Role))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, string(dErrors.CodeInvalidInput))
	})

	s.Run("storage failure is masked", func() {
		h, reader := newTestHandler(s.T())

		reader.EXPECT().ListRecent(gomock.Any(), 100).
			Return(nil, dErrors.New(dErrors.CodeStorageFailure, "select audit_records: connection reset"))

		req := testutil.NewRequest(s.T(), http.MethodGet, "/admin/audit")
		rr := testutil.DoRequest(http.HandlerFunc(h.handleList), testutil.WithActor(req, s.admin.ID.String(), s.admin.Role))

		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})
}
