package grant

import (
	"time"

	id "evidex/pkg/domain"
)

// Grant is a durable fact: the evidence version is visible to the user.
// Grants are never revoked; at most one exists per (version, user) pair.
type Grant struct {
	Version   id.VersionID
	User      id.UserID
	GrantedAt time.Time
	// GrantedBy is nil when the granter identity is lost (e.g. backfills).
	GrantedBy *id.UserID
}

// Result reports whether a grant call created a new row. A duplicate insert
// is a successful no-op, never an error, which keeps fulfillment retriable.
type Result struct {
	Grant   Grant
	Created bool
}
