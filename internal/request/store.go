package request

import (
	"context"
	"time"

	id "evidex/pkg/domain"
)

// Store persists requests and their items. Mark operations are conditional:
// they succeed only when the row is still in the expected state, and report
// false when a concurrent writer got there first. Implementations must honor
// a transaction carried in the context.
type Store interface {
	// CreateRequest inserts the request and all its items.
	CreateRequest(ctx context.Context, r Request) error

	// GetRequest loads the request with its items, ordered by creation.
	GetRequest(ctx context.Context, requestID id.RequestID) (Request, error)

	// GetRequestForUpdate is GetRequest plus a write lock on the request row
	// for the duration of the in-flight transaction. Writers of one request
	// take this lock first, so the status and items they read are the latest
	// committed state, not a stale snapshot.
	GetRequestForUpdate(ctx context.Context, requestID id.RequestID) (Request, error)

	// GetItem loads one item. Returns sentinel.ErrNotFound when absent.
	GetItem(ctx context.Context, itemID id.RequestItemID) (RequestItem, error)

	// ItemsOf loads the items of one request, ordered by creation.
	ItemsOf(ctx context.Context, requestID id.RequestID) ([]RequestItem, error)

	ListByBuyer(ctx context.Context, buyer id.UserID) ([]Request, error)
	ListByFactory(ctx context.Context, factory id.UserID) ([]Request, error)
	ListByFactoryAndStatus(ctx context.Context, factory id.UserID, statuses []Status) ([]Request, error)
	ListAll(ctx context.Context) ([]Request, error)

	// MarkItemFulfilled moves the item from pending to fulfilled, recording
	// the fulfilling version. Returns false when the item was no longer
	// pending.
	MarkItemFulfilled(ctx context.Context, itemID id.RequestItemID, versionID id.VersionID, by id.UserID, at time.Time) (bool, error)

	// MarkItemRejected moves the item from pending to rejected with a reason.
	// Returns false when the item was no longer pending.
	MarkItemRejected(ctx context.Context, itemID id.RequestItemID, reason string, by id.UserID, at time.Time) (bool, error)

	// UpdateRequestStatus moves the request to the target status only when its
	// current status is one of from. Returns false when it was not.
	UpdateRequestStatus(ctx context.Context, requestID id.RequestID, from []Status, to Status, at time.Time) (bool, error)
}
