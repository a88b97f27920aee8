package models

import (
	"time"

	id "familyledger/pkg/domain"
)

// RecordMeta holds the fields stored verbatim regardless of record shape.
type RecordMeta struct {
	ID         id.TransactionID
	TenantID   id.TenantID
	CategoryID string
	Type       id.TransactionType
	Date       time.Time
	CreatedAt  time.Time
	Currency   id.Currency
	UserID     id.UserID
	Synced     bool
}

// StoredRecord is the at-rest form of a transaction. It is either a
// PlaintextRecord (rows written before encryption existed) or an
// EncryptedRecord. The set of cases is closed.
type StoredRecord interface {
	Meta() RecordMeta
	isStoredRecord()
}

// PlaintextRecord is a legacy row: amount and description were stored in
// the clear. Reads pass it through unchanged.
type PlaintextRecord struct {
	RecordMeta
	Amount      string
	Description string
}

// EncryptedRecord carries amount and description as envelopes. The amount
// envelope seals the canonical decimal string.
type EncryptedRecord struct {
	RecordMeta
	AmountEnvelope      string
	DescriptionEnvelope string
}

func (r PlaintextRecord) Meta() RecordMeta { return r.RecordMeta }
func (r EncryptedRecord) Meta() RecordMeta { return r.RecordMeta }

func (PlaintextRecord) isStoredRecord() {}
func (EncryptedRecord) isStoredRecord() {}
