package service

import (
	"context"
	"errors"
	"time"

	"evidex/internal/access"
	"evidex/internal/audit"
	"evidex/internal/evidence"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
	"evidex/pkg/platform/sentinel"
)

// TxRunner provides the transactional boundary for evidence mutations.
// Implementations wrap a database transaction or, in-memory, a coarse lock.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// VersionInput carries the caller-supplied fields of a new version. The
// version number is assigned by the store, never by the caller.
type VersionInput struct {
	Notes      string
	ExpiryDate *time.Time
	FileRef    string
}

// Service owns evidence lifecycle: creation with an initial version, and
// subsequent version additions. Read paths delegate to the access evaluator
// so no listing ever bypasses visibility.
type Service struct {
	store     evidence.Store
	evaluator *access.Evaluator
	recorder  *audit.Recorder
	tx        TxRunner
	clock     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewService(store evidence.Store, evaluator *access.Evaluator, recorder *audit.Recorder, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		store:     store,
		evaluator: evaluator,
		recorder:  recorder,
		tx:        tx,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new evidence category owned by the acting factory,
// together with its initial version. Both inserts and both audit records land
// in one transaction.
func (s *Service) Create(ctx context.Context, actor id.Actor, name string, docType id.DocType, initial VersionInput) (evidence.Evidence, error) {
	if !actor.IsFactory() {
		return evidence.Evidence{}, dErrors.New(dErrors.CodePermissionDenied, "only factory users can create evidence")
	}
	if name == "" {
		return evidence.Evidence{}, dErrors.New(dErrors.CodeInvalidInput, "evidence name cannot be empty")
	}

	now := s.clock()
	e := evidence.Evidence{
		ID:        id.NewEvidenceID(),
		Name:      name,
		DocType:   docType,
		Factory:   actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.CreateEvidence(ctx, e); err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "create evidence failed")
		}
		if _, err := s.addVersionInTx(ctx, actor, e, initial); err != nil {
			return err
		}
		_, err := s.recorder.Record(ctx, actor, audit.ActionEvidenceCreated, audit.SubjectEvidence, e.ID.String(), map[string]any{
			"factory_id": actor.ID.String(),
			"doc_type":   docType.String(),
		})
		return err
	})
	if err != nil {
		return evidence.Evidence{}, err
	}
	return e, nil
}

// AddVersion appends a new immutable version to evidence the actor owns.
func (s *Service) AddVersion(ctx context.Context, actor id.Actor, evidenceID id.EvidenceID, input VersionInput) (evidence.Version, error) {
	if !actor.IsFactory() {
		return evidence.Version{}, dErrors.New(dErrors.CodePermissionDenied, "only factory users can add versions to evidence")
	}

	var created evidence.Version
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		parent, err := s.store.GetEvidence(ctx, evidenceID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "evidence not found")
			}
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "load evidence failed")
		}
		if parent.Factory != actor.ID {
			return dErrors.New(dErrors.CodePermissionDenied, "you can only add versions to your own evidence")
		}
		created, err = s.addVersionInTx(ctx, actor, parent, input)
		return err
	})
	if err != nil {
		return evidence.Version{}, err
	}
	return created, nil
}

// addVersionInTx inserts the version and its audit record. The store retries
// once when a concurrent writer claims the same version number.
func (s *Service) addVersionInTx(ctx context.Context, actor id.Actor, parent evidence.Evidence, input VersionInput) (evidence.Version, error) {
	v := evidence.Version{
		ID:         id.NewVersionID(),
		Evidence:   parent.ID,
		Notes:      input.Notes,
		ExpiryDate: input.ExpiryDate,
		FileRef:    input.FileRef,
		CreatedAt:  s.clock(),
		CreatedBy:  actor.ID,
	}

	created, err := s.store.AddVersion(ctx, v)
	if errors.Is(err, sentinel.ErrConflict) {
		created, err = s.store.AddVersion(ctx, v)
	}
	if err != nil {
		return evidence.Version{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "add version failed")
	}

	_, err = s.recorder.Record(ctx, actor, audit.ActionVersionAdded, audit.SubjectVersion, created.ID.String(), map[string]any{
		"evidence_id":    parent.ID.String(),
		"factory_id":     parent.Factory.String(),
		"version_number": created.VersionNumber,
	})
	if err != nil {
		return evidence.Version{}, err
	}
	return created, nil
}

// List returns the evidence visible to the actor.
func (s *Service) List(ctx context.Context, actor id.Actor) ([]evidence.Evidence, error) {
	return s.evaluator.VisibleEvidence(ctx, actor)
}

// ListVersions returns the version listing the actor may see, or
// AccessDenied when the actor may not know the evidence exists.
func (s *Service) ListVersions(ctx context.Context, actor id.Actor, evidenceID id.EvidenceID) ([]evidence.Version, error) {
	return s.evaluator.VisibleVersions(ctx, actor, evidenceID)
}
