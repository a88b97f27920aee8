// Package service orchestrates the encrypted ledger: it fetches the
// installation key, seals records through the record codec, persists them
// and writes a redacted audit trail of every mutation.
package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"familyledger/internal/keys"
	"familyledger/internal/ledger/metrics"
	"familyledger/internal/ledger/models"
	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
	"familyledger/pkg/platform/audit"
	"familyledger/pkg/requestcontext"
)

const (
	auditOrigin   = "TransactionService"
	systemActor   = "system"
	tracerName    = "familyledger/internal/ledger/service"
	opAdd         = "add"
	opDelete      = "delete"
	opQuery       = "query"
	msgAdded      = "Transaction Added"
	msgDeleted    = "Transaction Deleted"
)

type LedgerStore interface {
	Add(ctx context.Context, tenantID id.TenantID, rec models.StoredRecord) error
	Delete(ctx context.Context, tenantID id.TenantID, txID id.TransactionID) error
	QueryByDateRange(ctx context.Context, tenantID id.TenantID, start, end time.Time) ([]models.StoredRecord, error)
}

type KeyProvider interface {
	GetKey(ctx context.Context) (keys.Key, error)
}

type RecordCodec interface {
	ToStored(tx *models.Transaction, key keys.Key) (models.EncryptedRecord, error)
	FromStored(rec models.StoredRecord, key keys.Key) models.Transaction
}

type AuditPublisher interface {
	Append(ctx context.Context, entry audit.Entry)
}

// AddRequest is a plaintext intent to record a transaction. Amount is
// trusted: the transport validates it before calling Add.
type AddRequest struct {
	TenantID    id.TenantID
	Amount      decimal.Decimal
	CategoryID  string
	Type        id.TransactionType
	Description string
	Currency    id.Currency
	UserID      id.UserID
}

// window is the tenant's last queried month, kept so writers see their own
// changes without reloading.
type window struct {
	filter models.MonthFilter
	txs    []models.Transaction
}

// Service is the entry point for ledger reads and writes.
type Service struct {
	store   LedgerStore
	keys    KeyProvider
	codec   RecordCodec
	auditor AuditPublisher
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	loc     *time.Location

	mu      sync.RWMutex
	windows map[id.TenantID]*window
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithLocation sets the zone month boundaries are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func New(store LedgerStore, keyProvider KeyProvider, codec RecordCodec, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if keyProvider == nil {
		return nil, errors.New("key provider is required")
	}
	if codec == nil {
		return nil, errors.New("record codec is required")
	}
	s := &Service{
		store:   store,
		keys:    keyProvider,
		codec:   codec,
		logger:  slog.Default(),
		loc:     time.Local,
		windows: make(map[id.TenantID]*window),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s, nil
}

// Add records a new transaction dated now and returns its plaintext form.
// The audit entry is written only after the ledger accepted the record.
func (s *Service) Add(ctx context.Context, req AddRequest) (*models.Transaction, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ledger.Add",
		trace.WithAttributes(attribute.String("tenant_id", req.TenantID.String())))
	defer span.End()

	now := requestcontext.Now(ctx).In(s.loc).Truncate(time.Millisecond)
	tx, err := models.NewTransaction(
		id.NewTransactionID(),
		req.TenantID,
		req.Amount,
		req.Description,
		req.CategoryID,
		req.Type,
		req.Currency,
		req.UserID,
		now,
	)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			err = dErrors.New(dErrors.CodeValidation, err.Error())
		}
		return nil, s.fail(span, opAdd, err)
	}

	key, err := s.keys.GetKey(ctx)
	if err != nil {
		return nil, s.fail(span, opAdd, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "encryption key unavailable"))
	}
	rec, err := s.codec.ToStored(tx, key)
	if err != nil {
		return nil, s.fail(span, opAdd, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal transaction"))
	}

	// The audit trail only records committed writes.
	if err := s.store.Add(ctx, tx.TenantID, rec); err != nil {
		s.logger.ErrorContext(ctx, "failed to save transaction",
			"tenant_id", tx.TenantID,
			"transaction_id", tx.ID,
			"error", err,
		)
		return nil, s.fail(span, opAdd, dErrors.Wrap(err, dErrors.CodePersistenceFailed, "failed to save transaction"))
	}

	s.emit(ctx, audit.Entry{
		TenantID:  tx.TenantID,
		Timestamp: now,
		Level:     audit.LevelAction,
		Message:   msgAdded,
		Context: map[string]any{
			"id":          tx.ID.String(),
			"amount":      audit.Redacted,
			"type":        tx.Type.String(),
			"category_id": tx.CategoryID,
			"currency":    string(tx.Currency),
		},
		UserID: tx.UserID,
	})

	s.insertIntoWindow(*tx)
	if s.metrics != nil {
		s.metrics.IncrementAdded()
		s.metrics.ObserveAdd(start)
	}
	span.SetAttributes(attribute.String("transaction_id", tx.ID.String()))
	return tx, nil
}

// Delete removes a transaction. Deleting an unknown id succeeds. The audit
// entry carries category and currency only when the record is in the
// tenant's window.
func (s *Service) Delete(ctx context.Context, tenantID id.TenantID, txID id.TransactionID) error {
	ctx, span := s.tracer.Start(ctx, "ledger.Delete", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("transaction_id", txID.String()),
	))
	defer span.End()

	if tenantID.IsNil() {
		return s.fail(span, opDelete, dErrors.New(dErrors.CodeValidation, "tenant id required"))
	}

	snapshot, found := s.lookup(tenantID, txID)
	userID := requestcontext.UserID(ctx)
	now := requestcontext.Now(ctx).In(s.loc)

	if err := s.store.Delete(ctx, tenantID, txID); err != nil {
		s.logger.ErrorContext(ctx, "failed to delete transaction",
			"tenant_id", tenantID,
			"transaction_id", txID,
			"error", err,
		)
		return s.fail(span, opDelete, dErrors.Wrap(err, dErrors.CodePersistenceFailed, "failed to delete transaction"))
	}
	s.removeFromWindow(tenantID, txID)

	deletedBy := systemActor
	if !userID.IsNil() {
		deletedBy = userID.String()
	}
	details := map[string]any{
		"id":          txID.String(),
		"amount":      audit.Redacted,
		"description": audit.Redacted,
		"deleted_by":  deletedBy,
	}
	if found {
		details["category_id"] = snapshot.CategoryID
		details["currency"] = string(snapshot.Currency)
	}
	s.emit(ctx, audit.Entry{
		TenantID:  tenantID,
		Timestamp: now,
		Level:     audit.LevelAction,
		Message:   msgDeleted,
		Context:   details,
		UserID:    userID,
	})

	if s.metrics != nil {
		s.metrics.IncrementDeleted()
	}
	return nil
}

// Query loads one calendar month of the tenant's records, newest first,
// and makes it the tenant's active window. Records whose sealed fields
// cannot be opened come back Degraded instead of failing the query.
func (s *Service) Query(ctx context.Context, tenantID id.TenantID, filter models.MonthFilter) ([]models.Transaction, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "ledger.Query", trace.WithAttributes(
		attribute.String("tenant_id", tenantID.String()),
		attribute.Int("month", int(filter.Month)),
		attribute.Int("year", filter.Year),
	))
	defer span.End()

	if tenantID.IsNil() {
		return nil, s.fail(span, opQuery, dErrors.New(dErrors.CodeValidation, "tenant id required"))
	}
	if err := filter.Validate(); err != nil {
		return nil, s.fail(span, opQuery, err)
	}

	start, end := filter.Range(s.loc)
	records, err := s.store.QueryByDateRange(ctx, tenantID, start, end)
	if err != nil {
		return nil, s.fail(span, opQuery, dErrors.Wrap(err, dErrors.CodePersistenceFailed, "failed to load transactions"))
	}

	txs := make([]models.Transaction, 0, len(records))
	if len(records) > 0 {
		key, err := s.keys.GetKey(ctx)
		if err != nil {
			return nil, s.fail(span, opQuery, dErrors.Wrap(err, dErrors.CodeKeyUnavailable, "encryption key unavailable"))
		}
		degraded := 0
		for _, rec := range records {
			tx := s.codec.FromStored(rec, key)
			tx.Date = tx.Date.In(s.loc)
			tx.CreatedAt = tx.CreatedAt.In(s.loc)
			if tx.Degraded {
				degraded++
			}
			txs = append(txs, tx)
		}
		if degraded > 0 {
			s.logger.WarnContext(ctx, "degraded records in query",
				"tenant_id", tenantID,
				"count", degraded,
			)
			if s.metrics != nil {
				s.metrics.AddDegraded(degraded)
			}
		}
	}

	s.mu.Lock()
	s.windows[tenantID] = &window{filter: filter, txs: slices.Clone(txs)}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ObserveQuery(started, len(txs))
	}
	span.SetAttributes(attribute.Int("records", len(txs)))
	return txs, nil
}

// Window returns a copy of the tenant's active window, newest first.
func (s *Service) Window(tenantID id.TenantID) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[tenantID]
	if !ok {
		return nil
	}
	return slices.Clone(w.txs)
}

// Balance sums incomes and expenses. Total is income minus expense.
func Balance(txs []models.Transaction) models.Balance {
	income, expense := decimal.Zero, decimal.Zero
	for _, tx := range txs {
		switch tx.Type {
		case id.TransactionTypeIncome:
			income = income.Add(tx.Amount)
		default:
			expense = expense.Add(tx.Amount)
		}
	}
	return models.Balance{
		Income:  income,
		Expense: expense,
		Total:   income.Sub(expense),
	}
}

func (s *Service) insertIntoWindow(tx models.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[tx.TenantID]
	if !ok || !w.filter.Contains(tx.Date, s.loc) {
		return
	}
	w.txs = append(w.txs, tx)
	slices.SortStableFunc(w.txs, newestFirst)
}

func (s *Service) removeFromWindow(tenantID id.TenantID, txID id.TransactionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[tenantID]
	if !ok {
		return
	}
	w.txs = slices.DeleteFunc(w.txs, func(tx models.Transaction) bool { return tx.ID == txID })
}

func (s *Service) lookup(tenantID id.TenantID, txID id.TransactionID) (models.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[tenantID]
	if !ok {
		return models.Transaction{}, false
	}
	for _, tx := range w.txs {
		if tx.ID == txID {
			return tx, true
		}
	}
	return models.Transaction{}, false
}

// newestFirst orders by date, then creation time, then id, all descending.
func newestFirst(a, b models.Transaction) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(b.ID[:], a.ID[:])
}

func (s *Service) emit(ctx context.Context, entry audit.Entry) {
	if s.auditor == nil {
		return
	}
	entry.Origin = auditOrigin
	s.auditor.Append(ctx, entry)
}

func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	if s.metrics != nil {
		s.metrics.IncrementError(op, string(dErrors.CodeOf(err)))
	}
	return err
}
