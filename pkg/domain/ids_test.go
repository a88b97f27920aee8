package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "familyledger/pkg/domain-errors"
)

// TestParseTenantID_Invariants validates the parsing invariant:
// "tenant ids are non-empty, bounded, and drawn from a safe alphabet"
func TestParseTenantID_Invariants(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE transactions;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "family\x00silva", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "family\u200Bsilva", true},
		{"Empty string", "", true},
		{"Whitespace only", "   ", true},

		{"Slug", "family-silva", false},
		{"UUID", uuid.NewString(), false},
		{"Email-like", "ana.silva@home", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTenantID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestParseUserID_Optional(t *testing.T) {
	t.Run("empty yields zero value", func(t *testing.T) {
		id, err := ParseUserID("")
		require.NoError(t, err)
		assert.True(t, id.IsNil())
	})

	t.Run("rejects invalid characters", func(t *testing.T) {
		_, err := ParseUserID("bad user")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestParseTransactionID(t *testing.T) {
	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseTransactionID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("round-trips a generated id", func(t *testing.T) {
		id := NewTransactionID()
		parsed, err := ParseTransactionID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	})
}

// TestTenantIsolation_DistinctIDs documents that tenant comparison is a plain
// value comparison; stores rely on it for filtering.
func TestTenantIsolation_DistinctIDs(t *testing.T) {
	tenantA := TenantID("family-a")
	tenantB := TenantID("family-b")
	assert.NotEqual(t, tenantA, tenantB)
}

func TestParseTransactionTypeAndCurrency(t *testing.T) {
	tt, err := ParseTransactionType("INCOME")
	require.NoError(t, err)
	assert.Equal(t, TransactionTypeIncome, tt)

	_, err = ParseTransactionType("income")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	c, err := ParseCurrency("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, c)

	_, err = ParseCurrency("usd")
	assert.Error(t, err)
}
