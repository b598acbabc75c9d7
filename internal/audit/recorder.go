package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
)

// Recorder appends one immutable record per privileged state transition.
// Audit completeness is a safety invariant: a failed append surfaces as
// CodeStorageFailure and the enclosing operation must abort, so a state
// transition can never outlive its audit record.
type Recorder struct {
	store Store
	clock func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, clock: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends a record for the given actor and subject. The returned
// record carries the assigned ID and timestamp.
func (r *Recorder) Record(ctx context.Context, actor id.Actor, action Action, subjectType SubjectType, subjectID string, metadata map[string]any) (Record, error) {
	record := Record{
		ID:          uuid.New(),
		Actor:       actor.ID,
		ActorRole:   actor.Role,
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Timestamp:   r.clock(),
		Metadata:    metadata,
	}
	if err := r.store.Append(ctx, record); err != nil {
		return Record{}, dErrors.Wrap(err, dErrors.CodeStorageFailure, "audit append failed")
	}
	return record, nil
}

// ListByActor returns records produced by the given actor, newest first.
func (r *Recorder) ListByActor(ctx context.Context, actor id.UserID) ([]Record, error) {
	return r.store.ListByActor(ctx, actor)
}

// ListRecent returns the N most recent records.
func (r *Recorder) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	return r.store.ListRecent(ctx, limit)
}
