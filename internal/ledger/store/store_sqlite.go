package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"familyledger/internal/ledger/models"
	id "familyledger/pkg/domain"
	"familyledger/pkg/platform/sentinel"
)

// transactionRow is the transactions table. Both record shapes share it:
// IsEncrypted false marks a legacy plaintext row. Dates are Unix
// milliseconds.
type transactionRow struct {
	ID          string `gorm:"primaryKey;size:36"`
	TenantID    string `gorm:"size:128;not null;index:idx_transactions_tenant_date,priority:1"`
	DateMs      int64  `gorm:"not null;index:idx_transactions_tenant_date,priority:2"`
	CreatedAtMs int64  `gorm:"not null"`
	Amount      string `gorm:"type:text;not null"`
	Description string `gorm:"type:text"`
	CategoryID  string `gorm:"size:64;index"`
	Type        string `gorm:"size:16;not null"`
	Currency    string `gorm:"size:3;not null"`
	UserID      string `gorm:"size:128;index"`
	Synced      bool   `gorm:"not null;default:false"`
	IsEncrypted bool   `gorm:"not null;default:false;index"`
}

func (transactionRow) TableName() string { return "transactions" }

// SQLiteStore is the durable ledger. Each write is one statement, so a
// reader never observes a partially written row.
type SQLiteStore struct {
	db     *gorm.DB
	logger *slog.Logger
}

type SQLiteOption func(*SQLiteStore)

func WithLogger(logger *slog.Logger) SQLiteOption {
	return func(s *SQLiteStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSQLite returns a store over db, creating the table and index if needed.
func NewSQLite(db *gorm.DB, opts ...SQLiteOption) (*SQLiteStore, error) {
	if err := db.AutoMigrate(&transactionRow{}); err != nil {
		return nil, fmt.Errorf("migrate transactions: %w", err)
	}
	s := &SQLiteStore{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Add(ctx context.Context, tenantID id.TenantID, rec models.StoredRecord) error {
	if err := checkTenant(tenantID, rec); err != nil {
		return err
	}
	row := toRow(rec)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, tenantID id.TenantID, txID id.TransactionID) error {
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID.String(), txID.String()).
		Delete(&transactionRow{}).Error
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryByDateRange(ctx context.Context, tenantID id.TenantID, start, end time.Time) ([]models.StoredRecord, error) {
	var rows []transactionRow
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND date_ms BETWEEN ? AND ?", tenantID.String(), start.UnixMilli(), end.UnixMilli()).
		Order("date_ms DESC").
		Order("created_at_ms DESC").
		Order("id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}

	// A corrupt row is dropped so the rest of the month stays readable.
	out := make([]models.StoredRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping unreadable transaction row",
				"tenant_id", tenantID,
				"row_id", row.ID,
				"error", err,
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLiteStore) CountEncrypted(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&transactionRow{}).Where("is_encrypted = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count encrypted transactions: %w", err)
	}
	return n, nil
}

func isDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toRow(rec models.StoredRecord) transactionRow {
	m := rec.Meta()
	row := transactionRow{
		ID:          m.ID.String(),
		TenantID:    m.TenantID.String(),
		DateMs:      m.Date.UnixMilli(),
		CreatedAtMs: m.CreatedAt.UnixMilli(),
		CategoryID:  m.CategoryID,
		Type:        m.Type.String(),
		Currency:    m.Currency.String(),
		UserID:      m.UserID.String(),
		Synced:      m.Synced,
	}
	switch r := rec.(type) {
	case models.EncryptedRecord:
		row.Amount = r.AmountEnvelope
		row.Description = r.DescriptionEnvelope
		row.IsEncrypted = true
	case models.PlaintextRecord:
		row.Amount = r.Amount
		row.Description = r.Description
	}
	return row
}

func fromRow(row transactionRow) (models.StoredRecord, error) {
	parsed, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("transaction row %q: %v: %w", row.ID, err, sentinel.ErrCorrupt)
	}
	meta := models.RecordMeta{
		ID:         id.TransactionID(parsed),
		TenantID:   id.TenantID(row.TenantID),
		CategoryID: row.CategoryID,
		Type:       id.TransactionType(row.Type),
		Date:       time.UnixMilli(row.DateMs),
		CreatedAt:  time.UnixMilli(row.CreatedAtMs),
		Currency:   id.Currency(row.Currency),
		UserID:     id.UserID(row.UserID),
		Synced:     row.Synced,
	}
	if row.IsEncrypted {
		return models.EncryptedRecord{
			RecordMeta:          meta,
			AmountEnvelope:      row.Amount,
			DescriptionEnvelope: row.Description,
		}, nil
	}
	return models.PlaintextRecord{
		RecordMeta:  meta,
		Amount:      row.Amount,
		Description: row.Description,
	}, nil
}
