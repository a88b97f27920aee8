// Package handler exposes the ledger over HTTP. The caller's tenant comes
// from the identity middleware; handlers never accept it in a body.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"familyledger/internal/ledger/models"
	"familyledger/internal/ledger/service"
	id "familyledger/pkg/domain"
	dErrors "familyledger/pkg/domain-errors"
	"familyledger/pkg/platform/audit"
	"familyledger/pkg/platform/httputil"
	"familyledger/pkg/platform/middleware/identity"
	"familyledger/pkg/requestcontext"
)

// Service is the ledger surface the handler needs.
type Service interface {
	Add(ctx context.Context, req service.AddRequest) (*models.Transaction, error)
	Delete(ctx context.Context, tenantID id.TenantID, txID id.TransactionID) error
	Query(ctx context.Context, tenantID id.TenantID, filter models.MonthFilter) ([]models.Transaction, error)
}

// AuditReader lists a tenant's audit trail.
type AuditReader interface {
	Query(ctx context.Context, tenantID id.TenantID, limit int) ([]audit.Entry, error)
}

type Handler struct {
	ledger Service
	audits AuditReader
	logger *slog.Logger
	loc    *time.Location
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithLocation sets the zone used to pick the default month.
func WithLocation(loc *time.Location) Option {
	return func(h *Handler) {
		if loc != nil {
			h.loc = loc
		}
	}
}

func New(ledger Service, audits AuditReader, opts ...Option) *Handler {
	h := &Handler{
		ledger: ledger,
		audits: audits,
		logger: slog.Default(),
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type transactionListResponse struct {
	Month        int                  `json:"month"`
	Year         int                  `json:"year"`
	Transactions []models.Transaction `json:"transactions"`
	Balance      models.Balance       `json:"balance"`
}

type auditListResponse struct {
	Entries []audit.Entry `json:"entries"`
}

// Register mounts the tenant-scoped routes under /v1.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(identity.RequireTenant)
		r.Post("/transactions", h.handleAdd)
		r.Get("/transactions", h.handleList)
		r.Delete("/transactions/{id}", h.handleDelete)
		r.Get("/audit", h.handleAudit)
	})
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AddTransactionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.writeError(ctx, w, "add transaction", err)
		return
	}
	req.Normalize()
	txType, currency, err := req.Validate()
	if err != nil {
		h.writeError(ctx, w, "add transaction", err)
		return
	}

	tx, err := h.ledger.Add(ctx, service.AddRequest{
		TenantID:    requestcontext.TenantID(ctx),
		Amount:      req.Amount,
		CategoryID:  req.CategoryID,
		Type:        txType,
		Description: req.Description,
		Currency:    currency,
		UserID:      requestcontext.UserID(ctx),
	})
	if err != nil {
		h.writeError(ctx, w, "add transaction", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tx)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	txID, err := id.ParseTransactionID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "delete transaction", err)
		return
	}
	if err := h.ledger.Delete(ctx, requestcontext.TenantID(ctx), txID); err != nil {
		h.writeError(ctx, w, "delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := r.URL.Query()
	filter, err := parseMonthFilter(q.Get("month"), q.Get("year"), requestcontext.Now(ctx).In(h.loc))
	if err != nil {
		h.writeError(ctx, w, "list transactions", err)
		return
	}
	txs, err := h.ledger.Query(ctx, requestcontext.TenantID(ctx), filter)
	if err != nil {
		h.writeError(ctx, w, "list transactions", err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	httputil.WriteJSON(w, http.StatusOK, transactionListResponse{
		Month:        int(filter.Month),
		Year:         filter.Year,
		Transactions: txs,
		Balance:      service.Balance(txs),
	})
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(ctx, w, "list audit", err)
		return
	}
	entries, err := h.audits.Query(ctx, requestcontext.TenantID(ctx), limit)
	if err != nil {
		h.writeError(ctx, w, "list audit", dErrors.Wrap(err, dErrors.CodePersistenceFailed, "failed to load audit trail"))
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	httputil.WriteJSON(w, http.StatusOK, auditListResponse{Entries: entries})
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	code := dErrors.CodeOf(err)
	attrs := []any{
		"operation", op,
		"code", code,
		"request_id", requestcontext.RequestID(ctx),
		"error", err.Error(),
	}
	if dErrors.ToHTTPStatus(code) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
