package grant

import (
	"context"

	id "evidex/pkg/domain"
)

// Store persists the (version, user) relation. Insert must be idempotent
// under race: two simultaneous first-grants leave exactly one row and both
// callers observe success, with exactly one seeing created=true. The
// uniqueness invariant is enforced by the storage layer, not by application
// locking.
type Store interface {
	// Insert records the grant. created is false when the pair already exists.
	Insert(ctx context.Context, g Grant) (created bool, err error)
	IsGranted(ctx context.Context, version id.VersionID, user id.UserID) (bool, error)
	// VersionsFor returns every version granted to the user.
	VersionsFor(ctx context.Context, user id.UserID) ([]id.VersionID, error)
}
