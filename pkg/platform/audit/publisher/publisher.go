// Package publisher delivers audit entries to an audit.Store without ever
// failing the operation that produced them.
//
// In sync mode Append writes through to the store. With WithAsyncBuffer the
// entry is queued for a background worker and Close drains the queue. Any
// entry that cannot be persisted (store error, full buffer, open circuit,
// closed publisher) is escalated to a fallback logger, by default a text
// logger on stderr, tagged with CodeAuditDeliveryFailed.
package publisher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
	audit "familyledger/pkg/platform/audit"
	"familyledger/pkg/platform/audit/worker"
	"familyledger/pkg/requestcontext"
)

// Fallback reasons, also used as metric labels.
const (
	reasonStoreError  = "store_error"
	reasonBufferFull  = "buffer_full"
	reasonCircuitOpen = "circuit_open"
	reasonClosed      = "publisher_closed"
)

type Publisher struct {
	store    audit.Store
	logger   *slog.Logger
	fallback *slog.Logger
	breaker  *CircuitBreaker
	metrics  *Metrics
	now      func() time.Time

	bufferSize int
	inbox      chan audit.Entry
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithFallbackLogger replaces the stderr channel that receives undeliverable
// entries.
func WithFallbackLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.fallback = logger
	}
}

// WithAsyncBuffer queues entries for a background worker. Entries arriving
// while the buffer is full go to the fallback channel.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.bufferSize = size
	}
}

func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(p *Publisher) {
		p.breaker = cb
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithClock sets the source of entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.fallback == nil {
		p.fallback = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	if p.breaker == nil {
		p.breaker = NewCircuitBreaker(0, 0)
	}
	if p.bufferSize > 0 {
		p.inbox = make(chan audit.Entry, p.bufferSize)
		p.done = make(chan struct{})
		w := worker.NewWorker(p.inbox, p.deliver)
		go func() {
			defer close(p.done)
			_ = w.Run(context.Background())
		}()
	}
	return p
}

// Append records entry. It never blocks on a full buffer and never returns
// an error: delivery problems go to the fallback channel.
func (p *Publisher) Append(ctx context.Context, entry audit.Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = p.now()
	}
	if entry.RequestID == "" {
		entry.RequestID = requestcontext.RequestID(ctx)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.escalate(ctx, entry, reasonClosed, nil)
		return
	}
	if p.inbox == nil {
		p.deliver(ctx, entry)
		return
	}
	select {
	case p.inbox <- entry:
	default:
		p.escalate(ctx, entry, reasonBufferFull, nil)
	}
}

// Query returns a tenant's entries, most recent first. limit is clamped to
// [1, audit.MaxQueryLimit]; non-positive means audit.DefaultQueryLimit.
func (p *Publisher) Query(ctx context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error) {
	return p.store.ListRecent(ctx, tenantID, audit.ClampLimit(limit))
}

// Close stops accepting entries and, in async mode, waits until the queue is
// drained or ctx expires.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.inbox != nil {
		close(p.inbox)
	}
	p.mu.Unlock()

	if p.done == nil {
		return nil
	}
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) deliver(ctx context.Context, entry audit.Entry) {
	if !p.breaker.Allow() {
		p.escalate(ctx, entry, reasonCircuitOpen, nil)
		return
	}

	start := time.Now()
	if err := p.store.Append(ctx, entry); err != nil {
		p.metrics.incPersistFailures()
		open := p.breaker.RecordFailure()
		p.metrics.setCircuitOpen(open)
		if open {
			p.logger.WarnContext(ctx, "audit store circuit open", "error", err)
		}
		p.escalate(ctx, entry, reasonStoreError, err)
		return
	}
	p.breaker.RecordSuccess()
	p.metrics.setCircuitOpen(false)
	p.metrics.incPersisted(time.Since(start).Seconds())
}

// escalate writes an undeliverable entry to the fallback channel. The entry
// is already redacted, so it is logged as is.
func (p *Publisher) escalate(ctx context.Context, entry audit.Entry, reason string, err error) {
	p.metrics.incFallback(reason)
	attrs := []any{
		"code", dErrors.CodeAuditDeliveryFailed,
		"reason", reason,
		"tenant_id", entry.TenantID,
		"timestamp", entry.Timestamp,
		"level", entry.Level,
		"message", entry.Message,
		"origin", entry.Origin,
	}
	if len(entry.Context) > 0 {
		attrs = append(attrs, "context", entry.Context)
	}
	if !entry.UserID.IsNil() {
		attrs = append(attrs, "user_id", entry.UserID)
	}
	if entry.RequestID != "" {
		attrs = append(attrs, "request_id", entry.RequestID)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	p.fallback.WarnContext(ctx, "audit delivery failed", attrs...)
}
