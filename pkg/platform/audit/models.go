package audit

import (
	"context"
	"time"

	id "familyledger/pkg/domain"
)

// Redacted is written in place of any sensitive value before it reaches
// the audit trail.
const Redacted = "***"

// Level classifies an entry. ACTION marks a user-initiated mutation; the
// other levels mirror log severities.
type Level string

const (
	LevelInfo   Level = "INFO"
	LevelWarn   Level = "WARN"
	LevelError  Level = "ERROR"
	LevelAction Level = "ACTION"
)

func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelWarn, LevelError, LevelAction:
		return true
	}
	return false
}

// Entry is one line of a tenant's audit trail. Context must already be
// redacted by the caller; the trail never sees raw amounts or descriptions.
type Entry struct {
	ID        int64          `json:"id,omitempty"`
	TenantID  id.TenantID    `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Origin    string         `json:"origin"`
	Context   map[string]any `json:"context,omitempty"`
	UserID    id.UserID      `json:"user_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 1000
)

// ClampLimit applies the default and maximum to a caller-supplied limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}

// Store persists entries. ListRecent returns a tenant's entries most recent
// first.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListRecent(ctx context.Context, tenantID id.TenantID, limit int) ([]Entry, error)
}
