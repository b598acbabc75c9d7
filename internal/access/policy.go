package access

import (
	"context"

	"evidex/internal/evidence"
	id "evidex/pkg/domain"
)

// GrantReader is the read side of the grant ledger.
type GrantReader interface {
	IsGranted(ctx context.Context, version id.VersionID, user id.UserID) (bool, error)
	VersionsFor(ctx context.Context, user id.UserID) ([]id.VersionID, error)
}

// EvidenceReader supplies ownership and parentage facts.
type EvidenceReader interface {
	GetEvidence(ctx context.Context, evidenceID id.EvidenceID) (evidence.Evidence, error)
	GetVersion(ctx context.Context, versionID id.VersionID) (evidence.Version, error)
	ListByFactory(ctx context.Context, factory id.UserID) ([]evidence.Evidence, error)
	ListAll(ctx context.Context) ([]evidence.Evidence, error)
	VersionsOf(ctx context.Context, evidenceID id.EvidenceID) ([]evidence.Version, error)
}

// Policy answers visibility questions for one role variant. Roles form a
// closed set; adding a role means adding a variant here, not scattering role
// conditionals through read paths.
type Policy interface {
	// CanAccessVersion reports whether the actor may see the version, given
	// its parent evidence.
	CanAccessVersion(ctx context.Context, actor id.Actor, parent evidence.Evidence, version evidence.Version) (bool, error)
}

// factoryOwnerPolicy: a factory sees exactly the versions of evidence it owns.
type factoryOwnerPolicy struct{}

func (factoryOwnerPolicy) CanAccessVersion(_ context.Context, actor id.Actor, parent evidence.Evidence, _ evidence.Version) (bool, error) {
	return parent.Factory == actor.ID, nil
}

// buyerGranteePolicy: a buyer sees a version iff an explicit grant exists.
type buyerGranteePolicy struct {
	grants GrantReader
}

func (p buyerGranteePolicy) CanAccessVersion(ctx context.Context, actor id.Actor, _ evidence.Evidence, version evidence.Version) (bool, error) {
	return p.grants.IsGranted(ctx, version.ID, actor.ID)
}

// adminBypassPolicy: full visibility. A deliberate, explicit exception.
type adminBypassPolicy struct{}

func (adminBypassPolicy) CanAccessVersion(context.Context, id.Actor, evidence.Evidence, evidence.Version) (bool, error) {
	return true, nil
}
