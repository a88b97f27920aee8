// Package sqlite persists audit entries in the local SQLite database next to
// the ledger.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	id "familyledger/pkg/domain"
	audit "familyledger/pkg/platform/audit"
)

// entryRow is the audit_entries table. Timestamps are Unix milliseconds so
// ordering does not depend on how the driver renders time zones.
type entryRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	TenantID    string `gorm:"size:128;not null;index:idx_audit_tenant_time,priority:1"`
	TimestampMs int64  `gorm:"not null;index:idx_audit_tenant_time,priority:2"`
	Level       string `gorm:"size:16;not null;index"`
	Message     string `gorm:"size:1024;not null"`
	Origin      string `gorm:"size:128;not null"`
	Context     string `gorm:"type:text"`
	UserID      string `gorm:"size:128"`
	RequestID   string `gorm:"size:64"`
}

func (entryRow) TableName() string { return "audit_entries" }

type Store struct {
	db *gorm.DB
}

// New returns a store over db, creating the table if needed.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&entryRow{}); err != nil {
		return nil, fmt.Errorf("migrate audit_entries: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	row := entryRow{
		TenantID:    entry.TenantID.String(),
		TimestampMs: entry.Timestamp.UnixMilli(),
		Level:       string(entry.Level),
		Message:     entry.Message,
		Origin:      entry.Origin,
		UserID:      entry.UserID.String(),
		RequestID:   entry.RequestID,
	}
	if len(entry.Context) > 0 {
		payload, err := json.Marshal(entry.Context)
		if err != nil {
			return fmt.Errorf("marshal audit context: %w", err)
		}
		row.Context = string(payload)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error) {
	var rows []entryRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID.String()).
		Order("timestamp_ms DESC").
		Order("id DESC").
		Limit(audit.ClampLimit(limit)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	out := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		entry := audit.Entry{
			ID:        row.ID,
			TenantID:  id.TenantID(row.TenantID),
			Timestamp: time.UnixMilli(row.TimestampMs),
			Level:     audit.Level(row.Level),
			Message:   row.Message,
			Origin:    row.Origin,
			UserID:    id.UserID(row.UserID),
			RequestID: row.RequestID,
		}
		if row.Context != "" {
			if err := json.Unmarshal([]byte(row.Context), &entry.Context); err != nil {
				return nil, fmt.Errorf("decode audit context of entry %d: %w", row.ID, err)
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
