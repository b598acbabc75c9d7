package domain

import dErrors "evidex/pkg/domain-errors"

// DocType names a documentary evidence category (e.g. "ISO9001", "BSCI").
// Requests ask for doc types; fulfillment requires the attached version's
// evidence to carry the same doc type.
type DocType string

const maxDocTypeLen = 100

// ParseDocType constructs a DocType from external input.
func ParseDocType(s string) (DocType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "doc type cannot be empty")
	}
	if len(s) > maxDocTypeLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "doc type too long")
	}
	return DocType(s), nil
}

func (d DocType) String() string { return string(d) }
