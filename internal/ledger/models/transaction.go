package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
)

// Transaction is the plaintext form of a ledger record. It only exists in
// process memory; at rest the amount and description are sealed.
//
// Invariants:
//   - TenantID is set and never changes after creation
//   - Type is EXPENSE or INCOME
//   - Date and CreatedAt are set at creation
//
// Degraded is true when a sealed field could not be recovered on read; the
// affected field then carries its placeholder (zero amount or "***").
type Transaction struct {
	ID          id.TransactionID   `json:"id"`
	TenantID    id.TenantID        `json:"tenant_id"`
	Amount      decimal.Decimal    `json:"amount"`
	Description string             `json:"description"`
	CategoryID  string             `json:"category_id"`
	Type        id.TransactionType `json:"type"`
	Date        time.Time          `json:"date"`
	CreatedAt   time.Time          `json:"created_at"`
	Currency    id.Currency        `json:"currency"`
	UserID      id.UserID          `json:"user_id,omitempty"`
	Synced      bool               `json:"synced"`
	Degraded    bool               `json:"degraded,omitempty"`
}

// NewTransaction builds a record dated now.
func NewTransaction(
	txID id.TransactionID,
	tenantID id.TenantID,
	amount decimal.Decimal,
	description string,
	categoryID string,
	txType id.TransactionType,
	currency id.Currency,
	userID id.UserID,
	now time.Time,
) (*Transaction, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant id required")
	}
	if txID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "transaction id required")
	}
	if !txType.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid transaction type")
	}
	if currency == "" {
		currency = id.DefaultCurrency
	}
	return &Transaction{
		ID:          txID,
		TenantID:    tenantID,
		Amount:      amount,
		Description: description,
		CategoryID:  categoryID,
		Type:        txType,
		Date:        now,
		CreatedAt:   now,
		Currency:    currency,
		UserID:      userID,
	}, nil
}

// Meta returns the non-sensitive fields.
func (t *Transaction) Meta() RecordMeta {
	return RecordMeta{
		ID:         t.ID,
		TenantID:   t.TenantID,
		CategoryID: t.CategoryID,
		Type:       t.Type,
		Date:       t.Date,
		CreatedAt:  t.CreatedAt,
		Currency:   t.Currency,
		UserID:     t.UserID,
		Synced:     t.Synced,
	}
}

// Balance aggregates a set of records.
type Balance struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Total   decimal.Decimal `json:"total"`
}

// MonthFilter selects one calendar month. Month is 1-based.
type MonthFilter struct {
	Month time.Month
	Year  int
}

func (f MonthFilter) Validate() error {
	if f.Month < time.January || f.Month > time.December {
		return dErrors.New(dErrors.CodeInvalidInput, "month must be between 1 and 12")
	}
	if f.Year < 1970 || f.Year > 9999 {
		return dErrors.New(dErrors.CodeInvalidInput, "year out of range")
	}
	return nil
}

// Range returns the inclusive bounds of the month in loc, at millisecond
// precision: first day 00:00:00.000 through last day 23:59:59.999.
func (f MonthFilter) Range(loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(f.Year, f.Month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return start, end
}

// Contains reports whether t falls inside the month in loc.
func (f MonthFilter) Contains(t time.Time, loc *time.Location) bool {
	start, end := f.Range(loc)
	return !t.Before(start) && !t.After(end)
}
