package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"familyledger/internal/envelope"
	"familyledger/internal/keys"
	"familyledger/internal/ledger/codec"
	"familyledger/internal/ledger/models"
	"familyledger/internal/ledger/store"
	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
	"familyledger/pkg/platform/audit"
	"familyledger/pkg/platform/audit/publisher"
	auditmemory "familyledger/pkg/platform/audit/store/memory"
	"familyledger/pkg/requestcontext"
)

// LedgerFlowSuite runs the service over real collaborators: the in-memory
// ledger, the AES-GCM envelope, a key manager on a memory slot and a
// synchronous audit publisher.
type LedgerFlowSuite struct {
	suite.Suite
	ledger   *store.InMemoryStore
	keySlot  *keys.MemoryStore
	audits   *auditmemory.InMemoryStore
	fallback *syncBuffer
	service  *Service
}

func TestLedgerFlowSuite(t *testing.T) {
	suite.Run(t, new(LedgerFlowSuite))
}

func (s *LedgerFlowSuite) SetupTest() {
	s.ledger = store.NewInMemoryStore()
	s.keySlot = keys.NewMemoryStore()
	s.audits = auditmemory.NewInMemoryStore()
	s.fallback = &syncBuffer{}
	s.service = s.newService(keys.NewManager(s.keySlot))
}

func (s *LedgerFlowSuite) newService(km *keys.Manager) *Service {
	cipher, err := envelope.New(envelope.AES256GCM)
	s.Require().NoError(err)
	pub := publisher.NewPublisher(s.audits,
		publisher.WithFallbackLogger(slog.New(slog.NewTextHandler(s.fallback, nil))),
	)
	svc, err := New(s.ledger, km, codec.New(cipher),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAuditPublisher(pub),
		WithLocation(time.UTC),
	)
	s.Require().NoError(err)
	return svc
}

func at(month time.Month, day, hour int) context.Context {
	return requestcontext.WithTime(context.Background(), time.Date(2024, month, day, hour, 0, 0, 0, time.UTC))
}

func (s *LedgerFlowSuite) add(ctx context.Context, amount int64, typ id.TransactionType, description string) *models.Transaction {
	tx, err := s.service.Add(ctx, AddRequest{
		TenantID:    "family-a",
		Amount:      decimal.NewFromInt(amount),
		CategoryID:  "FOOD",
		Type:        typ,
		Description: description,
		Currency:    id.CurrencyBRL,
	})
	s.Require().NoError(err)
	return tx
}

func (s *LedgerFlowSuite) TestMonthQueryReturnsOnlyThatMonthNewestFirst() {
	s.add(at(time.January, 31, 23), 10, id.TransactionTypeExpense, "january")
	early := s.add(at(time.February, 1, 0), 20, id.TransactionTypeExpense, "early feb")
	late := s.add(at(time.February, 29, 23), 30, id.TransactionTypeIncome, "leap day")
	s.add(at(time.March, 1, 0), 40, id.TransactionTypeExpense, "march")

	txs, err := s.service.Query(context.Background(), "family-a", models.MonthFilter{Month: time.February, Year: 2024})
	s.Require().NoError(err)
	s.Require().Len(txs, 2)
	s.Equal(late.ID, txs[0].ID)
	s.Equal(early.ID, txs[1].ID)
	s.Equal("leap day", txs[0].Description)
	s.True(txs[0].Amount.Equal(decimal.NewFromInt(30)))
	s.False(txs[0].Degraded)
}

func (s *LedgerFlowSuite) TestAtRestRecordsAreSealed() {
	s.add(at(time.February, 10, 12), 50, id.TransactionTypeExpense, "lunch")

	recs, err := s.ledger.QueryByDateRange(context.Background(), "family-a",
		time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC))
	s.Require().NoError(err)
	s.Require().Len(recs, 1)
	enc, ok := recs[0].(models.EncryptedRecord)
	s.Require().True(ok)
	s.NotContains(enc.DescriptionEnvelope, "lunch")
	s.NotEqual("50", enc.AmountEnvelope)
}

func (s *LedgerFlowSuite) TestAuditTrailIsRedacted() {
	tx := s.add(at(time.February, 10, 12), 50, id.TransactionTypeExpense, "lunch")
	s.Require().NoError(s.service.Delete(context.Background(), "family-a", tx.ID))

	entries, err := s.audits.ListAll(context.Background())
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	for _, e := range entries {
		s.Equal(audit.LevelAction, e.Level)
		for k, v := range e.Context {
			if k == "id" {
				continue
			}
			s.NotContains(fmt.Sprint(v), "50", "context key %s", k)
			s.NotContains(fmt.Sprint(v), "lunch", "context key %s", k)
		}
	}
	s.Empty(s.fallback.String())
}

func (s *LedgerFlowSuite) TestWindowTracksWrites() {
	feb := models.MonthFilter{Month: time.February, Year: 2024}
	older := s.add(at(time.February, 5, 9), 15, id.TransactionTypeExpense, "bakery")

	_, err := s.service.Query(context.Background(), "family-a", feb)
	s.Require().NoError(err)

	newer := s.add(at(time.February, 20, 9), 25, id.TransactionTypeExpense, "market")
	s.add(at(time.March, 2, 9), 35, id.TransactionTypeExpense, "outside window")

	window := s.service.Window("family-a")
	s.Require().Len(window, 2)
	s.Equal(newer.ID, window[0].ID)
	s.Equal(older.ID, window[1].ID)

	s.Require().NoError(s.service.Delete(context.Background(), "family-a", older.ID))
	window = s.service.Window("family-a")
	s.Require().Len(window, 1)
	s.Equal(newer.ID, window[0].ID)

	entries, err := s.audits.ListRecent(context.Background(), "family-a", 1)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("Transaction Deleted", entries[0].Message)
	s.Equal("FOOD", entries[0].Context["category_id"])
	s.Equal("BRL", entries[0].Context["currency"])

	s.Nil(s.service.Window("family-b"))
}

func (s *LedgerFlowSuite) TestDeleteUnknownIDLeavesLedgerUnchanged() {
	tx := s.add(at(time.April, 3, 8), 12, id.TransactionTypeExpense, "coffee")

	s.Require().NoError(s.service.Delete(context.Background(), "family-a", id.NewTransactionID()))
	s.Require().NoError(s.service.Delete(context.Background(), "family-b", tx.ID))

	txs, err := s.service.Query(context.Background(), "family-a", models.MonthFilter{Month: time.April, Year: 2024})
	s.Require().NoError(err)
	s.Require().Len(txs, 1)
	s.Equal(tx.ID, txs[0].ID)
}

func (s *LedgerFlowSuite) TestRestartReadsWithPersistedKey() {
	tx := s.add(at(time.May, 7, 19), 99, id.TransactionTypeIncome, "salary")

	restarted := s.newService(keys.NewManager(s.keySlot))
	txs, err := restarted.Query(context.Background(), "family-a", models.MonthFilter{Month: time.May, Year: 2024})
	s.Require().NoError(err)
	s.Require().Len(txs, 1)
	s.Equal(tx.ID, txs[0].ID)
	s.Equal("salary", txs[0].Description)
	s.True(txs[0].Amount.Equal(decimal.NewFromInt(99)))
}

func (s *LedgerFlowSuite) TestForeignKeyDegradesInsteadOfFailing() {
	s.add(at(time.June, 1, 10), 70, id.TransactionTypeExpense, "pharmacy")

	other := s.newService(keys.NewManager(keys.NewMemoryStore()))
	txs, err := other.Query(context.Background(), "family-a", models.MonthFilter{Month: time.June, Year: 2024})
	s.Require().NoError(err)
	s.Require().Len(txs, 1)
	s.True(txs[0].Degraded)
	s.Equal(audit.Redacted, txs[0].Description)
	s.True(txs[0].Amount.IsZero())
	s.Equal("FOOD", txs[0].CategoryID)
}

func (s *LedgerFlowSuite) TestUnreadableKeyFailsClosed() {
	s.keySlot.FailWith(errors.New("permission denied"))

	_, err := s.service.Add(at(time.July, 4, 12), AddRequest{
		TenantID:   "family-a",
		Amount:     decimal.NewFromInt(5),
		CategoryID: "FOOD",
		Type:       id.TransactionTypeExpense,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeKeyUnavailable))

	n, err := s.ledger.CountEncrypted(context.Background())
	s.Require().NoError(err)
	s.Zero(n)
	entries, err := s.audits.ListAll(context.Background())
	s.Require().NoError(err)
	s.Empty(entries)
}

// syncBuffer guards a buffer written by the fallback logger.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
