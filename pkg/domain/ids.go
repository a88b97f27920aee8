package domain

import (
	"github.com/google/uuid"

	dErrors "familyledger/pkg/domain-errors"
)

// maxNameIDLength bounds tenant and user identifiers supplied by the
// identity layer.
const maxNameIDLength = 128

// TenantID is the isolation boundary for a household's data. It is an opaque
// identifier chosen by the identity/session layer, not necessarily a UUID.
//
// Invariant: non-empty, at most 128 bytes, drawn from [A-Za-z0-9._@-].
type TenantID string

// UserID identifies the household member who performed an action. Optional on
// every operation; the zero value means "not supplied".
type UserID string

// TransactionID identifies a ledger record. Generated client-side.
type TransactionID uuid.UUID

// ParseTenantID validates a tenant identifier at a trust boundary.
//
// Errors: returns CodeInvalidInput when the value is empty, too long, or
// contains characters outside the allowed set.
func ParseTenantID(s string) (TenantID, error) {
	if err := validateNameID(s, "tenant id"); err != nil {
		return "", err
	}
	return TenantID(s), nil
}

// ParseUserID validates a user identifier. An empty string is accepted and
// yields the zero UserID, since the user is optional.
func ParseUserID(s string) (UserID, error) {
	if s == "" {
		return "", nil
	}
	if err := validateNameID(s, "user id"); err != nil {
		return "", err
	}
	return UserID(s), nil
}

// NewTransactionID returns a fresh random transaction identifier.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New())
}

// ParseTransactionID parses a UUID-formatted transaction id.
func ParseTransactionID(s string) (TransactionID, error) {
	if s == "" {
		return TransactionID{}, dErrors.New(dErrors.CodeInvalidInput, "transaction id cannot be empty")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return TransactionID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid transaction id")
	}
	if parsed == uuid.Nil {
		return TransactionID{}, dErrors.New(dErrors.CodeInvalidInput, "transaction id cannot be nil")
	}
	return TransactionID(parsed), nil
}

func (id TenantID) String() string { return string(id) }

func (id TenantID) IsNil() bool { return id == "" }

func (id UserID) String() string { return string(id) }

func (id UserID) IsNil() bool { return id == "" }

func (id TransactionID) String() string { return uuid.UUID(id).String() }

func (id TransactionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func validateNameID(s, what string) error {
	if s == "" {
		return dErrors.New(dErrors.CodeInvalidInput, what+" cannot be empty")
	}
	if len(s) > maxNameIDLength {
		return dErrors.New(dErrors.CodeInvalidInput, what+" is too long")
	}
	for i := 0; i < len(s); i++ {
		if !isNameIDByte(s[i]) {
			return dErrors.New(dErrors.CodeInvalidInput, what+" contains invalid characters")
		}
	}
	return nil
}

func isNameIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '@':
		return true
	}
	return false
}

func (id TransactionID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TransactionID) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
