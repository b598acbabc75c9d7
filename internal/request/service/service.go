// Package service orchestrates request lifecycle transitions. Fulfill is the
// privileged path: one transaction covers the item transition, the request
// status recomputation, the grant insert, and both audit records, so a crash
// or audit failure leaves no partial state behind.
package service

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"evidex/internal/audit"
	"evidex/internal/evidence"
	"evidex/internal/grant"
	"evidex/internal/request"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
	"evidex/pkg/platform/sentinel"
)

// TxRunner provides the transactional boundary. The Postgres runner opens a
// database transaction; the in-memory runner serializes by request.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EvidenceReader supplies the version and ownership facts Fulfill checks.
type EvidenceReader interface {
	GetVersion(ctx context.Context, versionID id.VersionID) (evidence.Version, error)
	GetEvidence(ctx context.Context, evidenceID id.EvidenceID) (evidence.Evidence, error)
}

// Metrics is the subset of platform metrics the service reports to.
type Metrics interface {
	IncRequestsCreated()
	IncItemsFulfilled()
	IncItemsRejected()
}

// Service implements request operations over the store, the grant ledger and
// the audit recorder.
type Service struct {
	store    request.Store
	evidence EvidenceReader
	ledger   *grant.Ledger
	recorder *audit.Recorder
	tx       TxRunner
	metrics  Metrics
	tracer   trace.Tracer
	clock    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics wires operation counters.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewService(store request.Store, ev EvidenceReader, ledger *grant.Ledger, recorder *audit.Recorder, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		store:    store,
		evidence: ev,
		ledger:   ledger,
		recorder: recorder,
		tx:       tx,
		tracer:   otel.Tracer("evidex/internal/request"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a new request from the acting buyer to a factory. Each
// document type becomes one pending item.
func (s *Service) Create(ctx context.Context, actor id.Actor, factory id.UserID, title string, docTypes []id.DocType) (request.Request, error) {
	ctx, span := s.tracer.Start(ctx, "request.Create")
	defer span.End()

	if !actor.IsBuyer() {
		return request.Request{}, dErrors.New(dErrors.CodePermissionDenied, "only buyer users can create requests")
	}
	if title == "" {
		return request.Request{}, dErrors.New(dErrors.CodeInvalidInput, "request title cannot be empty")
	}
	if len(docTypes) == 0 {
		return request.Request{}, dErrors.New(dErrors.CodeInvalidInput, "request needs at least one document type")
	}
	if factory.IsNil() {
		return request.Request{}, dErrors.New(dErrors.CodeInvalidInput, "factory id cannot be empty")
	}

	now := s.clock()
	r := request.Request{
		ID:        id.NewRequestID(),
		Title:     title,
		Buyer:     actor.ID,
		Factory:   factory,
		Status:    request.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, dt := range docTypes {
		r.Items = append(r.Items, request.RequestItem{
			ID:        id.NewRequestItemID(),
			Request:   r.ID,
			DocType:   dt,
			Status:    request.ItemPending,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	err := s.tx.RunInTx(withRequestKey(ctx, r.ID), func(ctx context.Context) error {
		if err := s.store.CreateRequest(ctx, r); err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "create request failed")
		}
		_, err := s.recorder.Record(ctx, actor, audit.ActionRequestCreated, audit.SubjectRequest, r.ID.String(), map[string]any{
			"factory_id": factory.String(),
			"item_count": len(r.Items),
		})
		return err
	})
	if err != nil {
		return request.Request{}, err
	}
	if s.metrics != nil {
		s.metrics.IncRequestsCreated()
	}
	return r, nil
}

// Fulfill attaches one of the factory's evidence versions to a pending item.
// On success the buyer holds a grant on that version and the request status
// reflects the new item states. Everything, audit included, commits together
// or not at all.
func (s *Service) Fulfill(ctx context.Context, actor id.Actor, itemID id.RequestItemID, versionID id.VersionID) (request.Request, error) {
	ctx, span := s.tracer.Start(ctx, "request.Fulfill")
	defer span.End()

	var (
		out      request.Request
		grantRes grant.Result
	)
	run := func(ctx context.Context) error {
		item, r, err := s.loadItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := s.authorizeFactory(actor, r); err != nil {
			return err
		}

		version, err := s.evidence.GetVersion(ctx, versionID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "evidence version not found")
			}
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "load version failed")
		}
		parent, err := s.evidence.GetEvidence(ctx, version.Evidence)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "load evidence failed")
		}
		if parent.Factory != actor.ID {
			return dErrors.New(dErrors.CodePermissionDenied, "you can only fulfill with your own evidence")
		}
		if parent.DocType != item.DocType {
			return dErrors.New(dErrors.CodeTypeMismatch, "evidence document type does not match the requested type")
		}

		now := s.clock()
		moved, err := s.store.MarkItemFulfilled(ctx, itemID, versionID, actor.ID, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "fulfill item failed")
		}
		if !moved {
			return dErrors.New(dErrors.CodeInvalidState, "item is no longer pending")
		}

		if err := s.advanceRequestStatus(ctx, r.ID, now); err != nil {
			return err
		}

		// The buyer gets durable access to the attached version. The ledger
		// records its own audit entry for newly created grants.
		grantRes, err = s.ledger.Grant(ctx, versionID, r.Buyer, actor)
		if err != nil {
			return err
		}

		_, err = s.recorder.Record(ctx, actor, audit.ActionItemFulfilled, audit.SubjectRequestItem, itemID.String(), map[string]any{
			"request_id":  r.ID.String(),
			"buyer_id":    r.Buyer.String(),
			"doc_type":    item.DocType.String(),
			"evidence_id": parent.ID.String(),
			"version_id":  versionID.String(),
		})
		if err != nil {
			return err
		}

		out, err = s.store.GetRequest(ctx, r.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "reload request failed")
		}
		return nil
	}

	if err := s.tx.RunInTx(withItemRequestKey(ctx, s.store, itemID), run); err != nil {
		return request.Request{}, err
	}
	s.ledger.NotifyCommitted(ctx, grantRes)
	if s.metrics != nil {
		s.metrics.IncItemsFulfilled()
	}
	return out, nil
}

// Reject declines a pending item with a mandatory reason. No grant is
// created; the request status still advances.
func (s *Service) Reject(ctx context.Context, actor id.Actor, itemID id.RequestItemID, reason string) (request.Request, error) {
	ctx, span := s.tracer.Start(ctx, "request.Reject")
	defer span.End()

	if reason == "" {
		return request.Request{}, dErrors.New(dErrors.CodeInvalidInput, "reject reason cannot be empty")
	}

	var out request.Request
	run := func(ctx context.Context) error {
		item, r, err := s.loadItem(ctx, itemID)
		if err != nil {
			return err
		}
		if err := s.authorizeFactory(actor, r); err != nil {
			return err
		}

		now := s.clock()
		moved, err := s.store.MarkItemRejected(ctx, itemID, reason, actor.ID, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "reject item failed")
		}
		if !moved {
			return dErrors.New(dErrors.CodeInvalidState, "item is no longer pending")
		}

		if err := s.advanceRequestStatus(ctx, r.ID, now); err != nil {
			return err
		}

		_, err = s.recorder.Record(ctx, actor, audit.ActionItemRejected, audit.SubjectRequestItem, itemID.String(), map[string]any{
			"request_id": r.ID.String(),
			"buyer_id":   r.Buyer.String(),
			"doc_type":   item.DocType.String(),
			"reason":     reason,
		})
		if err != nil {
			return err
		}

		out, err = s.store.GetRequest(ctx, r.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "reload request failed")
		}
		return nil
	}

	if err := s.tx.RunInTx(withItemRequestKey(ctx, s.store, itemID), run); err != nil {
		return request.Request{}, err
	}
	if s.metrics != nil {
		s.metrics.IncItemsRejected()
	}
	return out, nil
}

// Cancel closes a request the acting buyer owns, from pending or in_progress.
// Remaining pending items stay pending; the terminal request status is what
// stops further transitions.
func (s *Service) Cancel(ctx context.Context, actor id.Actor, requestID id.RequestID) (request.Request, error) {
	ctx, span := s.tracer.Start(ctx, "request.Cancel")
	defer span.End()

	var out request.Request
	run := func(ctx context.Context) error {
		// Same lock as the fulfill path takes, so a cancel never lands
		// between a fulfill's status check and its item update.
		r, err := s.store.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "request not found")
			}
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "load request failed")
		}
		if !actor.IsBuyer() || r.Buyer != actor.ID {
			return dErrors.New(dErrors.CodePermissionDenied, "only the requesting buyer can cancel a request")
		}

		now := s.clock()
		moved, err := s.store.UpdateRequestStatus(ctx, requestID,
			[]request.Status{request.StatusPending, request.StatusInProgress},
			request.StatusCancelled, now)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "cancel request failed")
		}
		if !moved {
			return dErrors.New(dErrors.CodeInvalidState, "request can no longer be cancelled")
		}

		_, err = s.recorder.Record(ctx, actor, audit.ActionRequestCancelled, audit.SubjectRequest, requestID.String(), map[string]any{
			"factory_id": r.Factory.String(),
		})
		if err != nil {
			return err
		}

		out, err = s.store.GetRequest(ctx, requestID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeStorageFailure, "reload request failed")
		}
		return nil
	}

	if err := s.tx.RunInTx(withRequestKey(ctx, requestID), run); err != nil {
		return request.Request{}, err
	}
	return out, nil
}

// Get loads one request the actor is a party to. Admins see everything.
func (s *Service) Get(ctx context.Context, actor id.Actor, requestID id.RequestID) (request.Request, error) {
	r, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return request.Request{}, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return request.Request{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "load request failed")
	}
	if !actor.IsAdmin() && r.Buyer != actor.ID && r.Factory != actor.ID {
		return request.Request{}, dErrors.New(dErrors.CodeAccessDenied, "you don't have permission to view this request")
	}
	return r, nil
}

// ListForActor returns the requests the actor is a party to.
func (s *Service) ListForActor(ctx context.Context, actor id.Actor) ([]request.Request, error) {
	switch actor.Role {
	case id.RoleBuyer:
		return s.store.ListByBuyer(ctx, actor.ID)
	case id.RoleFactory:
		return s.store.ListByFactory(ctx, actor.ID)
	case id.RoleAdmin:
		return s.store.ListAll(ctx)
	default:
		return nil, nil
	}
}

// PendingForFactory is the factory's work queue: its requests still awaiting
// action.
func (s *Service) PendingForFactory(ctx context.Context, actor id.Actor) ([]request.Request, error) {
	if !actor.IsFactory() {
		return nil, dErrors.New(dErrors.CodePermissionDenied, "only factory users have a fulfillment queue")
	}
	return s.store.ListByFactoryAndStatus(ctx, actor.ID,
		[]request.Status{request.StatusPending, request.StatusInProgress})
}

func (s *Service) loadItem(ctx context.Context, itemID id.RequestItemID) (request.RequestItem, request.Request, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return request.RequestItem{}, request.Request{}, dErrors.New(dErrors.CodeNotFound, "request item not found")
		}
		return request.RequestItem{}, request.Request{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "load item failed")
	}
	// Lock the request row for the rest of the transaction. Competing writers
	// of the same request (sibling fulfills, a racing cancel) queue up here,
	// so the status check and the item re-read below see committed state.
	r, err := s.store.GetRequestForUpdate(ctx, item.Request)
	if err != nil {
		return request.RequestItem{}, request.Request{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "load request failed")
	}
	return item, r, nil
}

func (s *Service) authorizeFactory(actor id.Actor, r request.Request) error {
	if !actor.IsFactory() || r.Factory != actor.ID {
		return dErrors.New(dErrors.CodePermissionDenied, "only the assigned factory can act on this request")
	}
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidState, "request is already closed")
	}
	return nil
}

// advanceRequestStatus recomputes the request status from its item states: the
// first terminal item moves pending to in_progress, and a fully terminal item
// set completes the request. A request with only rejected items still
// completes; completion means "nothing left to act on", not "everything
// fulfilled".
func (s *Service) advanceRequestStatus(ctx context.Context, requestID id.RequestID, at time.Time) error {
	items, err := s.store.ItemsOf(ctx, requestID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageFailure, "load items failed")
	}

	allTerminal := true
	for _, item := range items {
		if !item.Status.IsTerminal() {
			allTerminal = false
			break
		}
	}

	if allTerminal {
		_, err = s.store.UpdateRequestStatus(ctx, requestID,
			[]request.Status{request.StatusPending, request.StatusInProgress},
			request.StatusCompleted, at)
	} else {
		// Conditional on pending: a no-op when already in_progress.
		_, err = s.store.UpdateRequestStatus(ctx, requestID,
			[]request.Status{request.StatusPending},
			request.StatusInProgress, at)
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageFailure, "advance request status failed")
	}
	return nil
}
