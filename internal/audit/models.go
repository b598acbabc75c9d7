package audit

import (
	"time"

	"github.com/google/uuid"

	id "evidex/pkg/domain"
)

// Action names a privileged state change. The set mirrors the operations of
// the fulfillment workflow; one record is appended per operation that mutated
// visible state.
type Action string

const (
	ActionEvidenceCreated  Action = "evidence_created"
	ActionVersionAdded     Action = "version_added"
	ActionRequestCreated   Action = "request_created"
	ActionRequestCancelled Action = "request_cancelled"
	ActionItemFulfilled    Action = "item_fulfilled"
	ActionItemRejected     Action = "item_rejected"
	ActionGrantCreated     Action = "grant_created"
)

// SubjectType classifies what a record is about.
type SubjectType string

const (
	SubjectEvidence    SubjectType = "evidence"
	SubjectVersion     SubjectType = "version"
	SubjectRequest     SubjectType = "request"
	SubjectRequestItem SubjectType = "request_item"
	SubjectGrant       SubjectType = "grant"
)

// Record is an append-only fact about a privileged state change. Records are
// immutable once written; no update or delete operation exists anywhere in
// this codebase.
type Record struct {
	ID          uuid.UUID
	Actor       id.UserID
	ActorRole   id.Role
	Action      Action
	SubjectType SubjectType
	SubjectID   string
	Timestamp   time.Time
	Metadata    map[string]any
}
