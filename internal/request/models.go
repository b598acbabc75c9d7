// Package request models evidence requests: a buyer asks a factory for a set
// of document types, and the factory fulfills or rejects each item. Item
// transitions drive the request status; requests never move backwards.
package request

import (
	"time"

	id "evidex/pkg/domain"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// ItemStatus is the lifecycle state of a single requested document type.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemFulfilled ItemStatus = "fulfilled"
	ItemRejected  ItemStatus = "rejected"
)

// Request is a buyer's ask to one factory. Items is populated on reads that
// load the full aggregate.
type Request struct {
	ID        id.RequestID
	Title     string
	Buyer     id.UserID
	Factory   id.UserID
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Items     []RequestItem
}

// RequestItem is one requested document type. Fulfillment fields are set
// exactly once, by the transition out of pending.
type RequestItem struct {
	ID                id.RequestItemID
	Request           id.RequestID
	DocType           id.DocType
	Status            ItemStatus
	FulfillingVersion *id.VersionID
	FulfilledBy       *id.UserID
	FulfilledAt       *time.Time
	RejectReason      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
