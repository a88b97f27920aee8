package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: entity or key slot does not exist in the store
//   - ErrConflict: a record with the same identity is already stored
//   - ErrCorrupt: persisted bytes exist but cannot be decoded
//   - ErrClosed: the component was shut down before the call
//   - ErrUnavailable: store temporarily unavailable (circuit open, I/O failure)
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrCorrupt     = errors.New("corrupt")
	ErrClosed      = errors.New("closed")
	ErrUnavailable = errors.New("unavailable")
)
