package evidence

import (
	"time"

	id "evidex/pkg/domain"
)

// Evidence is a named document category owned by exactly one factory user.
// Ownership never transfers.
type Evidence struct {
	ID        id.EvidenceID
	Name      string
	DocType   id.DocType
	Factory   id.UserID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Version is an immutable snapshot of evidence content. Content and ownership
// never change after creation; only visibility evolves, via the grant ledger.
type Version struct {
	ID            id.VersionID
	Evidence      id.EvidenceID
	VersionNumber int
	Notes         string
	ExpiryDate    *time.Time
	// FileRef is an opaque reference into the external content store.
	FileRef   string
	CreatedAt time.Time
	CreatedBy id.UserID
}
