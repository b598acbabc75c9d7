// Package access decides, for every evidence version, exactly which users may
// see it. Every read path goes through the Evaluator; nothing else in the
// codebase filters by visibility.
package access

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"evidex/internal/evidence"
	id "evidex/pkg/domain"
	dErrors "evidex/pkg/domain-errors"
)

// Metrics is the subset of platform metrics the evaluator reports to.
type Metrics interface {
	IncAccessDenials()
}

// Evaluator consults the grant ledger and ownership facts. It holds one
// Policy per role.
type Evaluator struct {
	grants   GrantReader
	evidence EvidenceReader
	policies map[id.Role]Policy
	metrics  Metrics
	tracer   trace.Tracer
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithMetrics wires denial counters.
func WithMetrics(m Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

func NewEvaluator(grants GrantReader, store EvidenceReader, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		grants:   grants,
		evidence: store,
		policies: map[id.Role]Policy{
			id.RoleFactory: factoryOwnerPolicy{},
			id.RoleBuyer:   buyerGranteePolicy{grants: grants},
			id.RoleAdmin:   adminBypassPolicy{},
		},
		tracer: otel.Tracer("evidex/internal/access"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CanAccessVersion reports whether the actor may see the version. Unknown
// roles see nothing.
func (e *Evaluator) CanAccessVersion(ctx context.Context, actor id.Actor, versionID id.VersionID) (bool, error) {
	ctx, span := e.tracer.Start(ctx, "access.CanAccessVersion")
	defer span.End()

	version, err := e.evidence.GetVersion(ctx, versionID)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeNotFound, "version not found")
	}
	parent, err := e.evidence.GetEvidence(ctx, version.Evidence)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeNotFound, "evidence not found")
	}

	policy, ok := e.policies[actor.Role]
	if !ok {
		return false, nil
	}
	return policy.CanAccessVersion(ctx, actor, parent, version)
}

// VisibleEvidence returns the evidence records the actor may know exist. For
// a factory, everything it owns; for a buyer, every evidence with at least
// one granted version; for an admin, everything.
func (e *Evaluator) VisibleEvidence(ctx context.Context, actor id.Actor) ([]evidence.Evidence, error) {
	ctx, span := e.tracer.Start(ctx, "access.VisibleEvidence")
	defer span.End()

	switch actor.Role {
	case id.RoleFactory:
		return e.evidence.ListByFactory(ctx, actor.ID)
	case id.RoleAdmin:
		return e.evidence.ListAll(ctx)
	case id.RoleBuyer:
		granted, err := e.grants.VersionsFor(ctx, actor.ID)
		if err != nil {
			return nil, err
		}
		seen := make(map[id.EvidenceID]bool)
		var out []evidence.Evidence
		for _, versionID := range granted {
			version, err := e.evidence.GetVersion(ctx, versionID)
			if err != nil {
				return nil, err
			}
			if seen[version.Evidence] {
				continue
			}
			seen[version.Evidence] = true
			parent, err := e.evidence.GetEvidence(ctx, version.Evidence)
			if err != nil {
				return nil, err
			}
			out = append(out, parent)
		}
		return out, nil
	default:
		return nil, nil
	}
}

// VisibleVersions returns the version listing for one evidence record,
// guarded by AssertEvidenceAccess. Evidence-level visibility opens the moment
// any child version is granted, but the listing stays version-scoped: a buyer
// only sees granted versions.
func (e *Evaluator) VisibleVersions(ctx context.Context, actor id.Actor, evidenceID id.EvidenceID) ([]evidence.Version, error) {
	ctx, span := e.tracer.Start(ctx, "access.VisibleVersions")
	defer span.End()

	if err := e.AssertEvidenceAccess(ctx, actor, evidenceID); err != nil {
		return nil, err
	}

	versions, err := e.evidence.VersionsOf(ctx, evidenceID)
	if err != nil {
		return nil, err
	}
	if actor.Role != id.RoleBuyer {
		// Owner and admin were cleared by the assert above.
		return versions, nil
	}

	var out []evidence.Version
	for _, v := range versions {
		granted, err := e.grants.IsGranted(ctx, v.ID, actor.ID)
		if err != nil {
			return nil, err
		}
		if granted {
			out = append(out, v)
		}
	}
	return out, nil
}

// AssertEvidenceAccess is the read guard before version listings. A buyer
// with zero granted versions for the evidence, who is not its owner or an
// admin, gets AccessDenied.
func (e *Evaluator) AssertEvidenceAccess(ctx context.Context, actor id.Actor, evidenceID id.EvidenceID) error {
	parent, err := e.evidence.GetEvidence(ctx, evidenceID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeNotFound, "evidence not found")
	}

	switch actor.Role {
	case id.RoleAdmin:
		return nil
	case id.RoleFactory:
		if parent.Factory == actor.ID {
			return nil
		}
	case id.RoleBuyer:
		versions, err := e.evidence.VersionsOf(ctx, evidenceID)
		if err != nil {
			return err
		}
		for _, v := range versions {
			granted, err := e.grants.IsGranted(ctx, v.ID, actor.ID)
			if err != nil {
				return err
			}
			if granted {
				return nil
			}
		}
	}

	if e.metrics != nil {
		e.metrics.IncAccessDenials()
	}
	return dErrors.New(dErrors.CodeAccessDenied, "you don't have permission to view this evidence")
}
