package billing

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/platform/httpx"
	"github.com/lexledger/lexledger/internal/rbac"
	"github.com/lexledger/lexledger/internal/shared"
)

const idempotencyHeader = "Idempotency-Key"

// Handler exposes billing over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	// Reads
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermBillingView))
		r.Get("/matters/{id}/unbilled-preview", h.preview)
		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/{id}", h.showInvoice)
		r.Get("/invoices/{id}/pdf", h.invoicePDF)
		r.Get("/billing/summary", h.summary)
	})

	// Invoice generation and work capture
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingEdit))
		r.Post("/invoices", h.createInvoice)
		r.Post("/matters/{id}/time-entries", h.createTimeEntry)
		r.Post("/matters/{id}/expenses", h.createExpense)
		r.Post("/time-entries", h.createTimeEntry)
		r.Post("/expenses", h.createExpense)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingApprove))
		r.Patch("/invoices/{id}/status", h.transition)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingPayments))
		r.Post("/invoices/{id}/payments", h.recordPayment)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermBillingDelete))
		r.Delete("/invoices/{id}", h.deleteInvoice)
	})
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	matterID, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opts := PreviewOptions{TaxRatePercent: decimal.Zero, Discount: ledger.Zero()}
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("tax")); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			h.fail(w, r, shared.Wrap(shared.ErrValidation, "invalid tax %q", raw))
			return
		}
		opts.TaxRatePercent = rate
	}
	if raw := strings.TrimSpace(q.Get("discount")); raw != "" {
		discount, err := ledger.ParseMoney(raw)
		if err != nil {
			h.fail(w, r, shared.Wrap(shared.ErrValidation, "invalid discount %q", raw))
			return
		}
		opts.Discount = discount
	}
	preview, err := h.service.Preview(r.Context(), matterID, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.CreateInvoice(r.Context(), input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/invoices/%d", inv.ID))
	httpx.JSON(w, http.StatusCreated, newInvoiceResponse(*inv, h.service.Now()))
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("perPage"))
	if page <= 0 {
		page = 1
	}
	if perPage <= 0 {
		perPage = 50
	}
	filter := InvoiceFilter{Limit: perPage, Offset: (page - 1) * perPage}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Status = status
	}
	if raw := strings.TrimSpace(q.Get("matterId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			h.fail(w, r, shared.Wrap(shared.ErrValidation, "invalid matterId %q", raw))
			return
		}
		filter.MatterID = id
	}
	invoices, pagination, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.service.Now()
	items := make([]invoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		items = append(items, newInvoiceResponse(inv, now))
	}
	httpx.JSON(w, http.StatusOK, invoiceListResponse{Items: items, Pagination: pagination})
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceResponse(inv, h.service.Now()))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, err := h.service.Transition(r.Context(), id, TransitionInput{Status: status, Confirm: req.Confirm})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newInvoiceResponse(*inv, h.service.Now()))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httpx.MaxBodyBytes))
	if err != nil {
		h.fail(w, r, shared.Wrap(shared.ErrValidation, "read body: %v", err))
		return
	}
	var req paymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, r, shared.Wrap(shared.ErrValidation, "invalid request body: %v", err))
		return
	}
	if err := httpx.Validate(req); err != nil {
		h.fail(w, r, err)
		return
	}
	input, err := req.toInput()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if key := strings.TrimSpace(r.Header.Get(idempotencyHeader)); key != "" {
		input.IdempotencyKey = key
		input.Fingerprint = shared.Fingerprint(body)
	}
	inv, err := h.service.RecordPayment(r.Context(), id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newInvoiceResponse(*inv, h.service.Now()))
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.DeleteInvoice(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) invoicePDF(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	inv, pdf, err := h.service.InvoicePDF(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%s.pdf", inv.Number))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) createTimeEntry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		timeEntryRequest
		assignedRequest
	}
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	matterID, err := h.matterScope(r, req.MatterID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.service.CreateTimeEntry(r.Context(), TimeEntryInput{
		MatterID:        matterID,
		Description:     req.Description,
		DurationMinutes: req.DurationMinutes,
		HourlyRate:      req.HourlyRate,
		Date:            date,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) createExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		expenseRequest
		assignedRequest
	}
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	matterID, err := h.matterScope(r, req.MatterID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	expense, err := h.service.CreateExpense(r.Context(), ExpenseInput{
		MatterID:    matterID,
		Description: req.Description,
		Amount:      req.Amount,
		Date:        date,
		Category:    req.Category,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, expense)
}

// matterScope prefers the matter in the path over one in the body.
func (h *Handler) matterScope(r *http.Request, fromBody *int64) (*int64, error) {
	if chi.URLParam(r, "id") == "" {
		return fromBody, nil
	}
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "billing request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, err)
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Wrap(shared.ErrValidation, "invalid id %q", raw)
	}
	return id, nil
}
