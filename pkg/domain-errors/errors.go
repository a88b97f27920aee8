// Package domainerrors defines the coded error type services return across
// package boundaries. Stores return sentinel errors; services translate them
// into a *Error carrying a Code so transports can map failures consistently.
package domainerrors

import (
	"errors"
	"net/http"
)

// Code classifies a failure so callers can decide whether it is fatal,
// recoverable, or merely worth a log line.
type Code string

const (
	// CodeKeyUnavailable means the installation key could not be generated,
	// loaded or imported. Fatal to any encrypt/decrypt request.
	CodeKeyUnavailable Code = "key_unavailable"
	// CodeAuthenticationFailed means an envelope failed its tag check.
	// Recoverable: the caller substitutes a placeholder.
	CodeAuthenticationFailed Code = "authentication_failed"
	// CodeMalformedEnvelope means an envelope could not be parsed.
	// Recoverable: the caller substitutes a placeholder.
	CodeMalformedEnvelope Code = "malformed_envelope"
	// CodePersistenceFailed means the ledger rejected a write or read.
	CodePersistenceFailed Code = "persistence_failed"
	// CodeAuditDeliveryFailed is never returned to a primary operation; it
	// tags fallback-channel records.
	CodeAuditDeliveryFailed Code = "audit_delivery_failed"

	CodeValidation         Code = "validation_error"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvariantViolation Code = "invariant_violation"
	CodeInternal           Code = "internal_error"
)

// Error is a coded domain error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal when the
// chain carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// Is is shorthand for HasCode, kept for call sites that read better as a
// predicate.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// ToHTTPStatus maps a code to the status the HTTP adapter responds with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest, CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeKeyUnavailable:
		return http.StatusServiceUnavailable
	case CodePersistenceFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
