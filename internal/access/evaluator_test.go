package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"evidex/internal/evidence"
	evidencememory "evidex/internal/evidence/store/memory"
	"evidex/internal/grant"
	grantmemory "evidex/internal/grant/store/memory"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
)

// Visibility is deny-by-default; these tests pin down the only three ways an
// actor ever sees a version: ownership, an explicit grant, or admin.

type EvaluatorSuite struct {
	suite.Suite
	grants    *grantmemory.InMemoryStore
	evidences *evidencememory.InMemoryStore
	evaluator *Evaluator

	factory id.Actor
	buyer   id.Actor
	admin   id.Actor
}

func TestEvaluatorSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorSuite))
}

func (s *EvaluatorSuite) SetupTest() {
	s.grants = grantmemory.NewInMemoryStore()
	s.evidences = evidencememory.NewInMemoryStore()
	s.evaluator = NewEvaluator(s.grants, s.evidences)

	s.factory = id.Actor{ID: id.NewUserID(), Role: id.RoleFactory}
	s.buyer = id.Actor{ID: id.NewUserID(), Role: id.RoleBuyer}
	s.admin = id.Actor{ID: id.NewUserID(), Role: id.RoleAdmin}
}

func (s *EvaluatorSuite) seedVersion(owner id.UserID) (evidence.Evidence, evidence.Version) {
	ctx := context.Background()
	e := evidence.Evidence{
		ID:        id.NewEvidenceID(),
		Name:      "cert",
		DocType:   "iso9001",
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
	return e, v
}

func (s *EvaluatorSuite) grantTo(user id.UserID, version id.VersionID) {
	created, err := s.grants.Insert(context.Background(), grant.Grant{
		Version:   version,
		User:      user,
		GrantedAt: time.Now(),
	})
	s.Require().NoError(err)
	s.Require().True(created)
}

func (s *EvaluatorSuite) TestCanAccessVersion() {
	ctx := context.Background()
	_, v := s.seedVersion(s.factory.ID)

	s.Run("owner sees own versions", func() {
		ok, err := s.evaluator.CanAccessVersion(ctx, s.factory, v.ID)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("another factory sees nothing", func() {
		other := id.Actor{ID: id.NewUserID(), Role: id.RoleFactory}
		ok, err := s.evaluator.CanAccessVersion(ctx, other, v.ID)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("buyer without grant is denied", func() {
		ok, err := s.evaluator.CanAccessVersion(ctx, s.buyer, v.ID)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("buyer with grant is allowed", func() {
		s.grantTo(s.buyer.ID, v.ID)
		ok, err := s.evaluator.CanAccessVersion(ctx, s.buyer, v.ID)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("admin bypasses", func() {
		ok, err := s.evaluator.CanAccessVersion(ctx, s.admin, v.ID)
		s.Require().NoError(err)
		s.True(ok)
	})

	s.Run("unknown role sees nothing", func() {
		weird := id.Actor{ID: id.NewUserID(), Role: "auditor"}
		ok, err := s.evaluator.CanAccessVersion(ctx, weird, v.ID)
		s.Require().NoError(err)
		s.False(ok)
	})
}

func (s *EvaluatorSuite) TestVisibleEvidence() {
	ctx := context.Background()
	mine, myVersion := s.seedVersion(s.factory.ID)
	other, otherVersion := s.seedVersion(id.NewUserID())

	s.Run("factory sees only owned evidence", func() {
		list, err := s.evaluator.VisibleEvidence(ctx, s.factory)
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(mine.ID, list[0].ID)
	})

	s.Run("buyer with no grants sees nothing", func() {
		list, err := s.evaluator.VisibleEvidence(ctx, s.buyer)
		s.Require().NoError(err)
		s.Empty(list)
	})

	s.Run("grant opens exactly one evidence", func() {
		s.grantTo(s.buyer.ID, otherVersion.ID)
		list, err := s.evaluator.VisibleEvidence(ctx, s.buyer)
		s.Require().NoError(err)
		s.Require().Len(list, 1)
		s.Equal(other.ID, list[0].ID)
	})

	s.Run("admin sees everything", func() {
		list, err := s.evaluator.VisibleEvidence(ctx, s.admin)
		s.Require().NoError(err)
		s.Len(list, 2)
	})

	_ = myVersion
}

func (s *EvaluatorSuite) TestVisibleVersionsIsVersionScoped() {
	ctx := context.Background()
	e, v1 := s.seedVersion(s.factory.ID)
	v2, err := s.evidences.AddVersion(ctx, evidence.Version{
		ID:        id.NewVersionID(),
		Evidence:  e.ID,
		FileRef:   "s3://docs/cert-v2.pdf",
		CreatedAt: time.Now(),
		CreatedBy: s.factory.ID,
	})
	s.Require().NoError(err)

	s.Run("owner sees every version", func() {
		versions, err := s.evaluator.VisibleVersions(ctx, s.factory, e.ID)
		s.Require().NoError(err)
		s.Len(versions, 2)
	})

	s.Run("buyer without any grant cannot even list", func() {
		_, err := s.evaluator.VisibleVersions(ctx, s.buyer, e.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
	})

	s.Run("granted buyer sees only granted versions", func() {
		s.grantTo(s.buyer.ID, v1.ID)
		versions, err := s.evaluator.VisibleVersions(ctx, s.buyer, e.ID)
		s.Require().NoError(err)
		s.Require().Len(versions, 1)
		s.Equal(v1.ID, versions[0].ID)
	})

	_ = v2
}

func (s *EvaluatorSuite) TestAssertEvidenceAccessCountsDenials() {
	ctx := context.Background()
	e, _ := s.seedVersion(s.factory.ID)

	denials := &countingMetrics{}
	evaluator := NewEvaluator(s.grants, s.evidences, WithMetrics(denials))

	err := evaluator.AssertEvidenceAccess(ctx, s.buyer, e.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeAccessDenied))
	s.Equal(1, denials.count)

	s.NoError(evaluator.AssertEvidenceAccess(ctx, s.admin, e.ID))
	s.Equal(1, denials.count)
}

type countingMetrics struct {
	count int
}

func (m *countingMetrics) IncAccessDenials() { m.count++ }
