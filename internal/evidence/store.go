package evidence

import (
	"context"

	id "evidex/pkg/domain"
)

// Store persists evidence and versions. Version numbers are assigned by the
// store, monotonically per evidence, unique under the (evidence, number)
// constraint even for concurrent writers.
type Store interface {
	CreateEvidence(ctx context.Context, e Evidence) error
	GetEvidence(ctx context.Context, evidenceID id.EvidenceID) (Evidence, error)
	ListByFactory(ctx context.Context, factory id.UserID) ([]Evidence, error)
	ListAll(ctx context.Context) ([]Evidence, error)

	// AddVersion assigns the next version number and persists v. The returned
	// Version carries the assigned number.
	AddVersion(ctx context.Context, v Version) (Version, error)
	GetVersion(ctx context.Context, versionID id.VersionID) (Version, error)
	VersionsOf(ctx context.Context, evidenceID id.EvidenceID) ([]Version, error)
}
