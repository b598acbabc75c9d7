package grant

import (
	"context"
	"time"

	"evidex/internal/audit"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
)

// Invalidator is notified when a user's visibility set changes so read-path
// caches never serve a stale denial. A nil Invalidator is a no-op.
type Invalidator interface {
	InvalidateUser(ctx context.Context, user id.UserID)
}

// Metrics is the subset of platform metrics the ledger reports to.
type Metrics interface {
	IncGrantsCreated()
}

// Ledger is the authoritative set of (version, user) visibility facts. Every
// newly created grant produces exactly one audit record attributed to the
// granting actor; duplicate grants produce none.
type Ledger struct {
	store       Store
	recorder    *audit.Recorder
	invalidator Invalidator
	metrics     Metrics
	clock       func() time.Time
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithInvalidator wires a visibility cache to bust on new grants.
func WithInvalidator(inv Invalidator) LedgerOption {
	return func(l *Ledger) { l.invalidator = inv }
}

// WithMetrics wires grant counters.
func WithMetrics(m Metrics) LedgerOption {
	return func(l *Ledger) { l.metrics = m }
}

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func NewLedger(store Store, recorder *audit.Recorder, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store, recorder: recorder, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Grant makes version visible to user, attributed to grantedBy. Idempotent:
// re-granting an existing pair returns Created=false and emits nothing.
//
// Callers that need atomicity with other writes (fulfillment) must invoke
// this inside their transactional boundary; the store and recorder both honor
// an in-flight transaction from context.
func (l *Ledger) Grant(ctx context.Context, version id.VersionID, user id.UserID, grantedBy id.Actor) (Result, error) {
	g := Grant{
		Version:   version,
		User:      user,
		GrantedAt: l.clock(),
	}
	if !grantedBy.ID.IsNil() {
		by := grantedBy.ID
		g.GrantedBy = &by
	}

	created, err := l.store.Insert(ctx, g)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "grant insert failed")
	}

	if created {
		_, err = l.recorder.Record(ctx, grantedBy, audit.ActionGrantCreated, audit.SubjectGrant, version.String(), map[string]any{
			"version_id": version.String(),
			"grantee_id": user.String(),
		})
		if err != nil {
			// Audit completeness is a safety invariant; the caller's
			// transaction must roll the grant back.
			return Result{}, err
		}
	}

	return Result{Grant: g, Created: created}, nil
}

// NotifyCommitted fires the side effects of a created grant: the counter and
// the cache invalidation. Callers invoke it after their transaction commits;
// a rolled-back grant must neither count nor bust the cache, and an
// invalidation inside the transaction would be refilled with pre-commit
// state anyway. A duplicate-grant result is a no-op.
func (l *Ledger) NotifyCommitted(ctx context.Context, res Result) {
	if !res.Created {
		return
	}
	if l.metrics != nil {
		l.metrics.IncGrantsCreated()
	}
	if l.invalidator != nil {
		l.invalidator.InvalidateUser(ctx, res.Grant.User)
	}
}

// IsGranted reports whether the pair exists.
func (l *Ledger) IsGranted(ctx context.Context, version id.VersionID, user id.UserID) (bool, error) {
	return l.store.IsGranted(ctx, version, user)
}

// VersionsFor returns the set of versions granted to the user.
func (l *Ledger) VersionsFor(ctx context.Context, user id.UserID) ([]id.VersionID, error) {
	return l.store.VersionsFor(ctx, user)
}
