package domain

import (
	"github.com/google/uuid"

	dErrors "evidex/pkg/domain-errors"
)

// Typed IDs keep evidence, version, request, and user identifiers distinct at
// compile time. Construct via the Parse functions at trust boundaries; direct
// casting bypasses validation.
type (
	UserID        uuid.UUID
	EvidenceID    uuid.UUID
	VersionID     uuid.UUID
	RequestID     uuid.UUID
	RequestItemID uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parseUUID(s)
	return EvidenceID(u), err
}

func ParseVersionID(s string) (VersionID, error) {
	u, err := parseUUID(s)
	return VersionID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s)
	return RequestID(u), err
}

func ParseRequestItemID(s string) (RequestItemID, error) {
	u, err := parseUUID(s)
	return RequestItemID(u), err
}

func NewUserID() UserID               { return UserID(uuid.New()) }
func NewEvidenceID() EvidenceID       { return EvidenceID(uuid.New()) }
func NewVersionID() VersionID         { return VersionID(uuid.New()) }
func NewRequestID() RequestID         { return RequestID(uuid.New()) }
func NewRequestItemID() RequestItemID { return RequestItemID(uuid.New()) }

func (id UserID) String() string        { return uuid.UUID(id).String() }
func (id EvidenceID) String() string    { return uuid.UUID(id).String() }
func (id VersionID) String() string     { return uuid.UUID(id).String() }
func (id RequestID) String() string     { return uuid.UUID(id).String() }
func (id RequestItemID) String() string { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id EvidenceID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VersionID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id RequestItemID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
