package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
)

func TestMonthFilterRange(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)

	tests := []struct {
		name      string
		filter    MonthFilter
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "february of a leap year",
			filter:    MonthFilter{Month: time.February, Year: 2024},
			wantStart: time.Date(2024, time.February, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2024, time.February, 29, 23, 59, 59, 999_000_000, loc),
		},
		{
			name:      "february of a common year",
			filter:    MonthFilter{Month: time.February, Year: 2023},
			wantStart: time.Date(2023, time.February, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2023, time.February, 28, 23, 59, 59, 999_000_000, loc),
		},
		{
			name:      "december rolls into next year",
			filter:    MonthFilter{Month: time.December, Year: 2025},
			wantStart: time.Date(2025, time.December, 1, 0, 0, 0, 0, loc),
			wantEnd:   time.Date(2025, time.December, 31, 23, 59, 59, 999_000_000, loc),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := tt.filter.Range(loc)
			assert.True(t, tt.wantStart.Equal(start), "start %s", start)
			assert.True(t, tt.wantEnd.Equal(end), "end %s", end)
		})
	}
}

func TestMonthFilterContains(t *testing.T) {
	loc := time.UTC
	f := MonthFilter{Month: time.March, Year: 2024}

	assert.True(t, f.Contains(time.Date(2024, time.March, 1, 0, 0, 0, 0, loc), loc))
	assert.True(t, f.Contains(time.Date(2024, time.March, 31, 23, 59, 59, 999_000_000, loc), loc))
	assert.False(t, f.Contains(time.Date(2024, time.April, 1, 0, 0, 0, 0, loc), loc))
	assert.False(t, f.Contains(time.Date(2024, time.February, 29, 23, 59, 59, 0, loc), loc))
}

func TestMonthFilterValidate(t *testing.T) {
	assert.NoError(t, MonthFilter{Month: time.January, Year: 2024}.Validate())
	assert.True(t, dErrors.HasCode(MonthFilter{Month: 0, Year: 2024}.Validate(), dErrors.CodeInvalidInput))
	assert.True(t, dErrors.HasCode(MonthFilter{Month: 13, Year: 2024}.Validate(), dErrors.CodeInvalidInput))
	assert.True(t, dErrors.HasCode(MonthFilter{Month: 5, Year: 12}.Validate(), dErrors.CodeInvalidInput))
}

func TestNewTransaction(t *testing.T) {
	now := time.Date(2024, time.May, 10, 12, 0, 0, 0, time.UTC)

	t.Run("dates both fields and defaults currency", func(t *testing.T) {
		tx, err := NewTransaction(id.NewTransactionID(), "family-silva", decimal.RequireFromString("42.50"),
			"Lunch", "FOOD", id.TransactionTypeExpense, "", "", now)
		require.NoError(t, err)
		assert.Equal(t, now, tx.Date)
		assert.Equal(t, now, tx.CreatedAt)
		assert.Equal(t, id.DefaultCurrency, tx.Currency)
		assert.False(t, tx.Synced)
	})

	t.Run("rejects missing tenant", func(t *testing.T) {
		_, err := NewTransaction(id.NewTransactionID(), "", decimal.NewFromInt(1),
			"", "FOOD", id.TransactionTypeExpense, "", "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := NewTransaction(id.NewTransactionID(), "family-silva", decimal.NewFromInt(1),
			"", "FOOD", "TRANSFER", "", "", now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}
