package domain

import dErrors "familyledger/pkg/domain-errors"

// TransactionType tells whether a record adds to or subtracts from a balance.
// Invariant: the value must be EXPENSE or INCOME.
//
// Usage: construct via ParseTransactionType at trust boundaries; direct
// casting bypasses validation.
type TransactionType string

const (
	TransactionTypeExpense TransactionType = "EXPENSE"
	TransactionTypeIncome  TransactionType = "INCOME"
)

// ParseTransactionType constructs a TransactionType from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseTransactionType(s string) (TransactionType, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "transaction type cannot be empty")
	}
	t := TransactionType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid transaction type")
	}
	return t, nil
}

// IsValid checks if the type is one of the supported enum values.
func (t TransactionType) IsValid() bool {
	return t == TransactionTypeExpense || t == TransactionTypeIncome
}

func (t TransactionType) String() string {
	return string(t)
}

// Currency is an ISO 4217 code. The UI offers BRL, USD, EUR and GBP; any
// three-letter upper-case code is accepted so records imported from other
// installations still load.
type Currency string

const (
	CurrencyBRL Currency = "BRL"
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
)

// DefaultCurrency is used when the caller supplies none.
const DefaultCurrency = CurrencyBRL

// ParseCurrency validates a currency code. Empty input yields DefaultCurrency.
func ParseCurrency(s string) (Currency, error) {
	if s == "" {
		return DefaultCurrency, nil
	}
	if len(s) != 3 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "currency must be a three-letter code")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return "", dErrors.New(dErrors.CodeInvalidInput, "currency must be upper-case letters")
		}
	}
	return Currency(s), nil
}

func (c Currency) String() string {
	return string(c)
}
