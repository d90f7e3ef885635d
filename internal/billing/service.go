package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/lock"
	"github.com/lexledger/lexledger/internal/shared"
)

const idempotencyModule = "billing.payments"

// ServiceConfig wires optional collaborators and defaults.
type ServiceConfig struct {
	Notifier       Notifier
	Audit          AuditRecorder
	Idempotency    IdempotencyGuard
	Cache          SummaryCache
	Metrics        Metrics
	Renderer       PDFRenderer
	Logger         *slog.Logger
	Currency       string
	DefaultDueDays int
	DefaultTerms   string
}

// Service coordinates invoice creation, lifecycle changes, payments and reporting.
type Service struct {
	repo    RepositoryPort
	locker  lock.Locker
	cfg     ServiceConfig
	logger  *slog.Logger
	now     func() time.Time
	flights singleflight.Group
}

// NewService constructs the billing service. A nil locker falls back to an
// in-process lock, which only serialises within one instance.
func NewService(repo RepositoryPort, locker lock.Locker, cfg ServiceConfig) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker(0)
	}
	if cfg.DefaultDueDays <= 0 {
		cfg.DefaultDueDays = 30
	}
	if cfg.DefaultTerms == "" {
		cfg.DefaultTerms = fmt.Sprintf("Net %d", cfg.DefaultDueDays)
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locker: locker, cfg: cfg, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Now reports the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// CreateInvoiceInput is the request to bill a matter.
type CreateInvoiceInput struct {
	MatterID       int64
	TaxRatePercent decimal.Decimal
	Discount       ledger.Money
	Notes          string
	Terms          string
	DueDate        *time.Time
}

// TransitionInput requests a manual status change.
type TransitionInput struct {
	Status  Status
	Confirm bool
}

// RecordPaymentInput describes a payment. IdempotencyKey is optional.
type RecordPaymentInput struct {
	Amount         ledger.Money
	Date           time.Time
	Method         ledger.PaymentMethod
	Reference      string
	IdempotencyKey string
	Fingerprint    string
}

// TimeEntryInput records work, optionally against a matter.
type TimeEntryInput struct {
	MatterID        *int64
	Description     string
	DurationMinutes int
	HourlyRate      ledger.Money
	Date            time.Time
}

// ExpenseInput records a disbursement, optionally against a matter.
type ExpenseInput struct {
	MatterID    *int64
	Description string
	Amount      ledger.Money
	Date        time.Time
	Category    string
}

// NormalizationReport summarises a status normalisation pass.
type NormalizationReport struct {
	Scanned  int
	Changed  int
	ByStatus map[Status]int
	DryRun   bool
}

// Preview computes the would-be invoice for a matter without side effects.
func (s *Service) Preview(ctx context.Context, matterID int64, opts PreviewOptions) (Preview, error) {
	if err := opts.Validate(); err != nil {
		return Preview{}, err
	}
	if _, err := s.repo.GetMatter(ctx, matterID); err != nil {
		return Preview{}, err
	}
	filter := EntryFilter{MatterID: &matterID, UnbilledOnly: true}
	var (
		entries  []TimeEntry
		expenses []Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entries, err = s.repo.ListTimeEntries(gctx, filter)
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = s.repo.ListExpenses(gctx, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		return Preview{}, err
	}
	return BuildPreview(matterID, entries, expenses, opts)
}

// CreateInvoice bills the unbilled work of a matter. Selection, numbering,
// insertion and marking run under the matter lock in one transaction, so
// each entry ends up on exactly one invoice.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (*Invoice, error) {
	if input.MatterID <= 0 {
		return nil, shared.Wrap(shared.ErrValidation, "matter id required")
	}
	opts := PreviewOptions{TaxRatePercent: input.TaxRatePercent, Discount: input.Discount}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	release, err := s.locker.Acquire(ctx, shared.MatterLockKey(input.MatterID))
	if err != nil {
		return nil, err
	}
	defer s.release(release, shared.MatterLockKey(input.MatterID))

	now := s.now()
	dueDate := startOfDay(now).AddDate(0, 0, s.cfg.DefaultDueDays)
	if input.DueDate != nil {
		dueDate = *input.DueDate
	}
	terms := strings.TrimSpace(input.Terms)
	if terms == "" {
		terms = s.cfg.DefaultTerms
	}

	var created *Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		matter, err := tx.LockMatter(ctx, input.MatterID)
		if err != nil {
			return err
		}
		entries, err := tx.ListUnbilledTimeEntries(ctx, matter.ID)
		if err != nil {
			return err
		}
		expenses, err := tx.ListUnbilledExpenses(ctx, matter.ID)
		if err != nil {
			return err
		}
		preview, err := BuildPreview(matter.ID, entries, expenses, opts)
		if err != nil {
			return err
		}
		if len(preview.LineItems) == 0 {
			return shared.Wrap(shared.ErrValidation, "matter %d has nothing to bill", matter.ID)
		}
		seq, err := tx.NextInvoiceSequence(ctx, now.Year())
		if err != nil {
			return err
		}
		inv, err := NewDraftInvoice(DraftInput{
			Number:  FormatInvoiceNumber(now.Year(), seq),
			Matter:  matter,
			Preview: preview,
			DueDate: dueDate,
			Notes:   input.Notes,
			Terms:   terms,
			Now:     now,
		})
		if err != nil {
			return err
		}
		id, err := tx.InsertInvoice(ctx, *inv)
		if err != nil {
			return err
		}
		inv.ID = id
		if err := MarkAsBilled(ctx, tx, id, BilledSetFromLines(inv.LineItems)); err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.InvoiceCreated(created.Amount.Float64())
	}
	s.audit(ctx, "invoice.create", created.ID, map[string]any{
		"number":    created.Number,
		"matter_id": created.MatterID,
		"amount":    created.Amount.String(),
		"lines":     len(created.LineItems),
	})
	s.logger.InfoContext(ctx, "invoice created",
		slog.Int64("invoice_id", created.ID),
		slog.String("number", created.Number),
		slog.Int64("matter_id", created.MatterID),
		slog.String("amount", created.Amount.String()),
	)
	return created, nil
}

// Transition applies a manual status change to an invoice.
func (s *Service) Transition(ctx context.Context, invoiceID int64, input TransitionInput) (*Invoice, error) {
	target, err := ParseStatus(string(input.Status))
	if err != nil {
		return nil, err
	}
	key := shared.InvoiceLockKey(invoiceID)
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer s.release(release, key)

	now := s.now()
	var (
		updated *Invoice
		from    Status
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		from = inv.Status
		if err := inv.Transition(target, input.Confirm, now); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, inv.Status, inv.UpdatedAt); err != nil {
			return err
		}
		updated = &inv
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.InvoiceTransitioned(updated.Status)
	}
	s.audit(ctx, "invoice.status", updated.ID, map[string]any{
		"number": updated.Number,
		"from":   string(from),
		"to":     string(updated.Status),
	})
	s.logger.InfoContext(ctx, "invoice status changed",
		slog.Int64("invoice_id", updated.ID),
		slog.String("from", string(from)),
		slog.String("to", string(updated.Status)),
	)
	if updated.Status == StatusSent && s.cfg.Notifier != nil {
		// The status change is already committed. A lost notification is
		// re-enqueued with `ledgerctl jobs trigger invoice-sent`.
		event := NewInvoiceSentEvent(*updated, shared.ActorID(ctx), now)
		if err := s.cfg.Notifier.InvoiceSent(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "enqueue invoice sent notification", slog.Int64("invoice_id", updated.ID), slog.Any("error", err))
		}
	}
	return updated, nil
}

// RecordPayment appends a payment under the invoice lock.
func (s *Service) RecordPayment(ctx context.Context, invoiceID int64, input RecordPaymentInput) (inv *Invoice, err error) {
	if !input.Amount.IsPositive() {
		return nil, shared.Wrap(shared.ErrValidation, "payment amount must be positive, got %s", input.Amount)
	}
	if input.IdempotencyKey != "" && s.cfg.Idempotency != nil {
		scoped := fmt.Sprintf("%d:%s", invoiceID, input.IdempotencyKey)
		if err := s.cfg.Idempotency.CheckAndInsert(ctx, scoped, idempotencyModule, input.Fingerprint); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) && s.cfg.Metrics != nil {
				s.cfg.Metrics.IdempotentReplay()
			}
			return nil, err
		}
		defer func() {
			if err != nil {
				if derr := s.cfg.Idempotency.Delete(context.WithoutCancel(ctx), scoped, idempotencyModule); derr != nil {
					s.logger.WarnContext(ctx, "release idempotency key", slog.Any("error", derr))
				}
			}
		}()
	}

	key := shared.InvoiceLockKey(invoiceID)
	release, err := s.locker.Acquire(ctx, key)
	if err != nil {
		return nil, err
	}
	defer s.release(release, key)

	now := s.now()
	payment := ledger.Payment{
		Date:      input.Date,
		Amount:    input.Amount,
		Method:    input.Method,
		Reference: strings.TrimSpace(input.Reference),
		CreatedAt: now,
	}
	var updated *Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := current.RecordPayment(payment, now); err != nil {
			return err
		}
		recorded := current.Payments[len(current.Payments)-1]
		id, err := tx.InsertPayment(ctx, current.ID, recorded)
		if err != nil {
			return err
		}
		current.Payments[len(current.Payments)-1].ID = id
		if err := tx.UpdateInvoiceStatus(ctx, current.ID, current.Status, current.UpdatedAt); err != nil {
			return err
		}
		updated = &current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.PaymentRecorded(string(payment.Method), payment.Amount.Float64())
		s.cfg.Metrics.InvoiceTransitioned(updated.Status)
	}
	s.audit(ctx, "invoice.payment", updated.ID, map[string]any{
		"number":    updated.Number,
		"amount":    payment.Amount.String(),
		"method":    string(payment.Method),
		"reference": payment.Reference,
		"status":    string(updated.Status),
	})
	s.logger.InfoContext(ctx, "payment recorded",
		slog.Int64("invoice_id", updated.ID),
		slog.String("amount", payment.Amount.String()),
		slog.String("status", string(updated.Status)),
		slog.String("remaining", updated.RemainingBalance().String()),
	)
	return updated, nil
}

// DeleteInvoice removes an invoice without payments and returns the exact
// entries and expenses it captured to the unbilled pool.
func (s *Service) DeleteInvoice(ctx context.Context, invoiceID int64) error {
	invoiceKey := shared.InvoiceLockKey(invoiceID)
	release, err := s.locker.Acquire(ctx, invoiceKey)
	if err != nil {
		return err
	}
	defer s.release(release, invoiceKey)

	existing, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	// Invoice lock first, then matter lock; creation only takes the latter.
	matterKey := shared.MatterLockKey(existing.MatterID)
	releaseMatter, err := s.locker.Acquire(ctx, matterKey)
	if err != nil {
		return err
	}
	defer s.release(releaseMatter, matterKey)

	var deleted Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if len(inv.Payments) > 0 {
			return shared.Wrap(shared.ErrIllegalTransition, "invoice %s has payments and cannot be deleted", inv.Number)
		}
		if err := ReverseBilled(ctx, tx, inv.ID, BilledSetFromLines(inv.LineItems)); err != nil {
			return err
		}
		if err := tx.DeleteInvoice(ctx, inv.ID); err != nil {
			return err
		}
		deleted = inv
		return nil
	})
	if err != nil {
		return err
	}

	s.afterWrite(ctx)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.InvoiceDeleted()
	}
	s.audit(ctx, "invoice.delete", deleted.ID, map[string]any{
		"number":    deleted.Number,
		"matter_id": deleted.MatterID,
		"released":  len(deleted.LineItems),
	})
	s.logger.InfoContext(ctx, "invoice deleted", slog.Int64("invoice_id", deleted.ID), slog.String("number", deleted.Number))
	return nil
}

// GetInvoice returns an invoice with its lines and payments.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListInvoices returns a page of invoices and its pagination metadata.
func (s *Service) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, shared.Pagination{}, shared.Wrap(shared.ErrValidation, "unknown invoice status %q", filter.Status)
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	invoices, total, err := s.repo.ListInvoices(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return invoices, shared.NewPagination(filter.Offset/filter.Limit+1, filter.Limit, total), nil
}

// Summary returns the billing dashboard. Concurrent callers share one
// computation and results are cached briefly when a cache is configured.
// The shared computation outlives any single caller's cancellation.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	load := func(ctx context.Context) (any, error) {
		ch := s.flights.DoChan("summary", func() (any, error) {
			return s.computeSummary(context.WithoutCancel(ctx))
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			return res.Val, res.Err
		}
	}
	if s.cfg.Cache == nil {
		v, err := load(ctx)
		if err != nil {
			return Summary{}, err
		}
		return v.(Summary), nil
	}
	key, err := s.cfg.Cache.BuildKey(ctx, "summary", s.cfg.Currency)
	if err != nil {
		return Summary{}, err
	}
	var out Summary
	if err := s.cfg.Cache.FetchJSON(ctx, key, &out, load); err != nil {
		return Summary{}, err
	}
	return out, nil
}

func (s *Service) computeSummary(ctx context.Context) (Summary, error) {
	var (
		invoices []Invoice
		entries  []TimeEntry
		expenses []Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, _, err = s.repo.ListInvoices(gctx, InvoiceFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = s.repo.ListTimeEntries(gctx, EntryFilter{UnbilledOnly: true})
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = s.repo.ListExpenses(gctx, EntryFilter{UnbilledOnly: true})
		return err
	})
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return Summarize(invoices, entries, expenses, s.now()), nil
}

// OverdueInvoices lists collectable invoices past their due date.
func (s *Service) OverdueInvoices(ctx context.Context) ([]Invoice, error) {
	invoices, _, err := s.repo.ListInvoices(ctx, InvoiceFilter{})
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]Invoice, 0)
	for _, inv := range invoices {
		if inv.IsOverdue(now) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// CreateTimeEntry records work. A referenced matter must exist.
func (s *Service) CreateTimeEntry(ctx context.Context, input TimeEntryInput) (TimeEntry, error) {
	if strings.TrimSpace(input.Description) == "" {
		return TimeEntry{}, shared.Wrap(shared.ErrValidation, "description required")
	}
	if input.DurationMinutes < 0 || input.DurationMinutes > math.MaxInt32 {
		return TimeEntry{}, shared.Wrap(shared.ErrValidation, "duration must be between 0 and %d minutes", math.MaxInt32)
	}
	if input.HourlyRate.IsNegative() || !input.HourlyRate.Storable() {
		return TimeEntry{}, shared.Wrap(shared.ErrValidation, "hourly rate must be between 0 and %s", ledger.MaxAmount)
	}
	if err := s.ensureMatter(ctx, input.MatterID); err != nil {
		return TimeEntry{}, err
	}
	now := s.now()
	date := input.Date
	if date.IsZero() {
		date = startOfDay(now)
	}
	entry, err := s.repo.CreateTimeEntry(ctx, TimeEntry{
		MatterID:        input.MatterID,
		Description:     strings.TrimSpace(input.Description),
		DurationMinutes: input.DurationMinutes,
		HourlyRate:      input.HourlyRate,
		Date:            date,
		CreatedAt:       now,
	})
	if err != nil {
		return TimeEntry{}, err
	}
	s.afterWrite(ctx)
	s.audit(ctx, "time_entry.create", entry.ID, map[string]any{"minutes": entry.DurationMinutes, "rate": entry.HourlyRate.String()})
	return entry, nil
}

// CreateExpense records a disbursement. A referenced matter must exist.
func (s *Service) CreateExpense(ctx context.Context, input ExpenseInput) (Expense, error) {
	if strings.TrimSpace(input.Description) == "" {
		return Expense{}, shared.Wrap(shared.ErrValidation, "description required")
	}
	if input.Amount.IsNegative() || !input.Amount.Storable() {
		return Expense{}, shared.Wrap(shared.ErrValidation, "expense amount must be between 0 and %s", ledger.MaxAmount)
	}
	if err := s.ensureMatter(ctx, input.MatterID); err != nil {
		return Expense{}, err
	}
	now := s.now()
	date := input.Date
	if date.IsZero() {
		date = startOfDay(now)
	}
	expense, err := s.repo.CreateExpense(ctx, Expense{
		MatterID:    input.MatterID,
		Description: strings.TrimSpace(input.Description),
		Amount:      input.Amount,
		Date:        date,
		Category:    strings.TrimSpace(input.Category),
		CreatedAt:   now,
	})
	if err != nil {
		return Expense{}, err
	}
	s.afterWrite(ctx)
	s.audit(ctx, "expense.create", expense.ID, map[string]any{"amount": expense.Amount.String(), "category": expense.Category})
	return expense, nil
}

// NormalizeStatuses rewrites stored legacy statuses onto the canonical enum
// in one transaction. Any value that cannot be mapped aborts the pass.
func (s *Service) NormalizeStatuses(ctx context.Context, dryRun bool) (NormalizationReport, error) {
	var report NormalizationReport
	errDryRun := errors.New("dry run")
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		// The transaction may be retried; count each attempt from zero.
		report = NormalizationReport{ByStatus: make(map[Status]int), DryRun: dryRun}
		rows, err := tx.ListRawStatuses(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			report.Scanned++
			status, err := NormalizeLegacyStatus(row.Status)
			if err != nil {
				return fmt.Errorf("invoice %d: %w", row.InvoiceID, err)
			}
			report.ByStatus[status]++
			if string(status) == row.Status {
				continue
			}
			report.Changed++
			if err := tx.SetRawStatus(ctx, row.InvoiceID, status); err != nil {
				return err
			}
		}
		if dryRun {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return NormalizationReport{}, err
	}
	if !dryRun && report.Changed > 0 {
		s.afterWrite(ctx)
		s.logger.InfoContext(ctx, "invoice statuses normalised", slog.Int("scanned", report.Scanned), slog.Int("changed", report.Changed))
	}
	return report, nil
}

func (s *Service) ensureMatter(ctx context.Context, matterID *int64) error {
	if matterID == nil {
		return nil
	}
	if *matterID <= 0 {
		return shared.Wrap(shared.ErrValidation, "invalid matter id %d", *matterID)
	}
	_, err := s.repo.GetMatter(ctx, *matterID)
	return err
}

func (s *Service) release(release func() error, key string) {
	if err := release(); err != nil {
		s.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
	}
}

// afterWrite invalidates cached summaries.
func (s *Service) afterWrite(ctx context.Context) {
	if s.cfg.Cache == nil {
		return
	}
	if err := s.cfg.Cache.Bump(ctx); err != nil {
		s.logger.WarnContext(ctx, "bump billing summary cache", slog.Any("error", err))
	}
}

func (s *Service) audit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.cfg.Audit == nil {
		return
	}
	if err := s.cfg.Audit.Record(ctx, shared.NewAuditLog(action, entityID, meta, s.now())); err != nil {
		s.logger.WarnContext(ctx, "record audit log", slog.String("action", action), slog.Any("error", err))
	}
}
