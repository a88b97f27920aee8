package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"familyledger/internal/ledger/models"
	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
)

const (
	maxDescriptionLength = 500
	maxCategoryLength    = 64
)

// AddTransactionRequest is the body of POST /v1/transactions. The amount is
// accepted as a JSON number or string.
type AddTransactionRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	CategoryID  string          `json:"category_id"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Currency    string          `json:"currency"`
}

func (r *AddTransactionRequest) Normalize() {
	r.CategoryID = strings.TrimSpace(r.CategoryID)
	r.Type = strings.ToUpper(strings.TrimSpace(r.Type))
	r.Description = strings.TrimSpace(r.Description)
	r.Currency = strings.ToUpper(strings.TrimSpace(r.Currency))
}

// Validate checks the request and returns the parsed enums.
func (r *AddTransactionRequest) Validate() (id.TransactionType, id.Currency, error) {
	if !r.Amount.IsPositive() {
		return "", "", dErrors.New(dErrors.CodeValidation, "amount must be greater than zero")
	}
	if r.CategoryID == "" {
		return "", "", dErrors.New(dErrors.CodeValidation, "category_id is required")
	}
	if len(r.CategoryID) > maxCategoryLength {
		return "", "", dErrors.New(dErrors.CodeValidation, "category_id is too long")
	}
	if len(r.Description) > maxDescriptionLength {
		return "", "", dErrors.New(dErrors.CodeValidation, "description is too long")
	}
	txType, err := id.ParseTransactionType(r.Type)
	if err != nil {
		return "", "", err
	}
	currency, err := id.ParseCurrency(r.Currency)
	if err != nil {
		return "", "", err
	}
	return txType, currency, nil
}

// parseMonthFilter reads ?month=1..12&year=YYYY. Missing values default to
// the month containing now.
func parseMonthFilter(month, year string, now time.Time) (models.MonthFilter, error) {
	f := models.MonthFilter{Month: now.Month(), Year: now.Year()}
	if month != "" {
		m, err := strconv.Atoi(month)
		if err != nil {
			return models.MonthFilter{}, dErrors.New(dErrors.CodeBadRequest, "month must be a number")
		}
		f.Month = time.Month(m)
	}
	if year != "" {
		y, err := strconv.Atoi(year)
		if err != nil {
			return models.MonthFilter{}, dErrors.New(dErrors.CodeBadRequest, "year must be a number")
		}
		f.Year = y
	}
	if err := f.Validate(); err != nil {
		return models.MonthFilter{}, err
	}
	return f, nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative number")
	}
	return n, nil
}
