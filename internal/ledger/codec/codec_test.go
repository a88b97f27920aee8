package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"familyledger/internal/envelope"
	"familyledger/internal/keys"
	"familyledger/internal/ledger/models"
	id "familyledger/pkg/domain"
)

func newCodec(t *testing.T) (*Codec, *envelope.Codec, keys.Key) {
	t.Helper()
	cipher, err := envelope.New(envelope.AES256GCM)
	require.NoError(t, err)
	key, err := keys.Generate(nil)
	require.NoError(t, err)
	return New(cipher), cipher, key
}

func sampleTx(cents int64, description string) *models.Transaction {
	now := time.Date(2024, time.February, 14, 19, 30, 0, 0, time.UTC)
	return &models.Transaction{
		ID:          id.NewTransactionID(),
		TenantID:    "family-silva",
		Amount:      decimal.New(cents, -2),
		Description: description,
		CategoryID:  "FOOD",
		Type:        id.TransactionTypeExpense,
		Date:        now,
		CreatedAt:   now,
		Currency:    id.CurrencyBRL,
		UserID:      "ana",
	}
}

func TestCodecProperties(t *testing.T) {
	c, _, key := newCodec(t)
	properties := gopter.NewProperties(nil)

	properties.Property("fromStored inverts toStored", prop.ForAll(
		func(cents int64, description string) bool {
			tx := sampleTx(cents, description)
			rec, err := c.ToStored(tx, key)
			if err != nil {
				return false
			}
			back := c.FromStored(rec, key)
			return back.Amount.Equal(tx.Amount) &&
				back.Description == tx.Description &&
				back.Meta() == tx.Meta() &&
				!back.Degraded
		},
		gen.Int64Range(-1_000_000_00, 1_000_000_00),
		gen.AnyString(),
	))

	properties.Property("stored record carries no plaintext", prop.ForAll(
		func(cents int64, description string) bool {
			tx := sampleTx(cents, description)
			rec, err := c.ToStored(tx, key)
			if err != nil {
				return false
			}
			return !strings.Contains(rec.DescriptionEnvelope, description) &&
				rec.AmountEnvelope != tx.Amount.String()
		},
		gen.Int64Range(1, 1_000_000_00),
		gen.RegexMatch(`[a-z ]{10,40}`),
	))

	properties.Property("metadata is copied verbatim", prop.ForAll(
		func(category string) bool {
			tx := sampleTx(100, "x")
			tx.CategoryID = category
			rec, err := c.ToStored(tx, key)
			return err == nil && rec.Meta() == tx.Meta()
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestLegacyPassthrough(t *testing.T) {
	c, _, key := newCodec(t)
	tx := sampleTx(4250, "Mercado")

	rec := models.PlaintextRecord{RecordMeta: tx.Meta(), Amount: "42.50", Description: "Mercado"}
	back := c.FromStored(rec, key)

	assert.True(t, back.Amount.Equal(decimal.RequireFromString("42.50")))
	assert.Equal(t, "Mercado", back.Description)
	assert.Equal(t, tx.Meta(), back.Meta())
	assert.False(t, back.Degraded)

	// The key is irrelevant for legacy rows.
	assert.Equal(t, back, c.FromStored(rec, keys.Key{}))
}

func TestDegradedValues(t *testing.T) {
	c, cipher, key := newCodec(t)
	tx := sampleTx(15000, "Farmácia")
	rec, err := c.ToStored(tx, key)
	require.NoError(t, err)

	t.Run("wrong key degrades both fields", func(t *testing.T) {
		other, err := keys.Generate(nil)
		require.NoError(t, err)

		back := c.FromStored(rec, other)
		assert.True(t, back.Degraded)
		assert.True(t, back.Amount.Equal(decimal.Zero))
		assert.Equal(t, DescriptionPlaceholder, back.Description)
		assert.Equal(t, tx.Meta(), back.Meta())
	})

	t.Run("tampered description only", func(t *testing.T) {
		bad := rec
		bad.DescriptionEnvelope = "not-an-envelope"
		back := c.FromStored(bad, key)
		assert.True(t, back.Degraded)
		assert.True(t, back.Amount.Equal(decimal.RequireFromString("150")))
		assert.Equal(t, "***", back.Description)
	})

	t.Run("amount that opens but does not parse", func(t *testing.T) {
		env, err := cipher.Encrypt(key, []byte("one hundred"))
		require.NoError(t, err)
		bad := rec
		bad.AmountEnvelope = env
		back := c.FromStored(bad, key)
		assert.True(t, back.Degraded)
		assert.True(t, back.Amount.Equal(decimal.Zero))
		assert.Equal(t, "Farmácia", back.Description)
	})

	t.Run("legacy amount that does not parse", func(t *testing.T) {
		back := c.FromStored(models.PlaintextRecord{RecordMeta: tx.Meta(), Amount: "NaN?", Description: "x"}, key)
		assert.True(t, back.Degraded)
		assert.True(t, back.Amount.Equal(decimal.Zero))
	})
}
