// Package codec converts between plaintext transactions and their at-rest
// records, sealing the amount and description.
package codec

import (
	"fmt"

	"github.com/shopspring/decimal"

	"familyledger/internal/keys"
	"familyledger/internal/ledger/models"
	"familyledger/pkg/platform/audit"
)

// DescriptionPlaceholder replaces a description that could not be opened.
const DescriptionPlaceholder = audit.Redacted

// Cipher seals and opens single values.
type Cipher interface {
	Encrypt(key keys.Key, plaintext []byte) (string, error)
	Decrypt(key keys.Key, envelope string) ([]byte, error)
}

type Codec struct {
	cipher Cipher
}

func New(cipher Cipher) *Codec {
	return &Codec{cipher: cipher}
}

// ToStored seals tx's amount (canonical decimal string) and description.
// Every other field is copied verbatim.
func (c *Codec) ToStored(tx *models.Transaction, key keys.Key) (models.EncryptedRecord, error) {
	amount, err := c.cipher.Encrypt(key, []byte(tx.Amount.String()))
	if err != nil {
		return models.EncryptedRecord{}, fmt.Errorf("seal amount: %w", err)
	}
	description, err := c.cipher.Encrypt(key, []byte(tx.Description))
	if err != nil {
		return models.EncryptedRecord{}, fmt.Errorf("seal description: %w", err)
	}
	return models.EncryptedRecord{
		RecordMeta:          tx.Meta(),
		AmountEnvelope:      amount,
		DescriptionEnvelope: description,
	}, nil
}

// FromStored recovers the plaintext transaction. It never fails: a field that
// cannot be opened or parsed takes its placeholder and the result is marked
// Degraded, so one bad row cannot abort a batch read.
func (c *Codec) FromStored(rec models.StoredRecord, key keys.Key) models.Transaction {
	switch r := rec.(type) {
	case models.PlaintextRecord:
		tx := fromMeta(r.RecordMeta)
		tx.Description = r.Description
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			tx.Degraded = true
		} else {
			tx.Amount = amount
		}
		return tx
	case models.EncryptedRecord:
		tx := fromMeta(r.RecordMeta)
		tx.Amount, tx.Degraded = c.openAmount(key, r.AmountEnvelope)
		description, ok := c.openDescription(key, r.DescriptionEnvelope)
		tx.Description = description
		tx.Degraded = tx.Degraded || !ok
		return tx
	default:
		panic(fmt.Sprintf("codec: unknown stored record %T", rec))
	}
}

func (c *Codec) openAmount(key keys.Key, env string) (decimal.Decimal, bool) {
	plain, err := c.cipher.Decrypt(key, env)
	if err != nil {
		return decimal.Zero, true
	}
	amount, err := decimal.NewFromString(string(plain))
	if err != nil {
		return decimal.Zero, true
	}
	return amount, false
}

func (c *Codec) openDescription(key keys.Key, env string) (string, bool) {
	plain, err := c.cipher.Decrypt(key, env)
	if err != nil {
		return DescriptionPlaceholder, false
	}
	return string(plain), true
}

func fromMeta(m models.RecordMeta) models.Transaction {
	return models.Transaction{
		ID:         m.ID,
		TenantID:   m.TenantID,
		CategoryID: m.CategoryID,
		Type:       m.Type,
		Date:       m.Date,
		CreatedAt:  m.CreatedAt,
		Currency:   m.Currency,
		UserID:     m.UserID,
		Synced:     m.Synced,
		Amount:     decimal.Zero,
	}
}
