package billing

import (
	"context"
	"time"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

// EntryFilter narrows time entry and expense reads.
type EntryFilter struct {
	MatterID     *int64
	UnbilledOnly bool
}

// InvoiceFilter narrows invoice listings. Limit 0 means no limit.
type InvoiceFilter struct {
	Status   Status
	MatterID int64
	Limit    int
	Offset   int
}

// RawStatus is an invoice status as stored, before normalisation.
type RawStatus struct {
	InvoiceID int64
	Status    string
}

// RepositoryPort defines data access for billing.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMatter(ctx context.Context, id int64) (Matter, error)
	ListTimeEntries(ctx context.Context, filter EntryFilter) ([]TimeEntry, error)
	ListExpenses(ctx context.Context, filter EntryFilter) ([]Expense, error)
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	// ListInvoices returns invoices with payments loaded but no line items.
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error)
	CreateTimeEntry(ctx context.Context, entry TimeEntry) (TimeEntry, error)
	CreateExpense(ctx context.Context, expense Expense) (Expense, error)
}

// TxRepository exposes the transactional operations. Lock* methods take
// row locks held until the transaction ends.
type TxRepository interface {
	BilledMarker
	LockMatter(ctx context.Context, id int64) (Matter, error)
	ListUnbilledTimeEntries(ctx context.Context, matterID int64) ([]TimeEntry, error)
	ListUnbilledExpenses(ctx context.Context, matterID int64) ([]Expense, error)
	NextInvoiceSequence(ctx context.Context, year int) (int, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id int64, status Status, updatedAt time.Time) error
	InsertPayment(ctx context.Context, invoiceID int64, p ledger.Payment) (int64, error)
	DeleteInvoice(ctx context.Context, id int64) error
	ListRawStatuses(ctx context.Context) ([]RawStatus, error)
	SetRawStatus(ctx context.Context, invoiceID int64, status Status) error
}

// InvoiceSentEvent is published once an invoice is confirmed as sent.
type InvoiceSentEvent struct {
	InvoiceID  int64     `json:"invoice_id"`
	Number     string    `json:"number"`
	ClientID   int64     `json:"client_id"`
	ClientName string    `json:"client_name"`
	Amount     string    `json:"amount"`
	DueDate    time.Time `json:"due_date"`
	SentBy     int64     `json:"sent_by"`
	SentAt     time.Time `json:"sent_at"`
}

// NewInvoiceSentEvent describes inv as sent by actor at the given time.
func NewInvoiceSentEvent(inv Invoice, sentBy int64, at time.Time) InvoiceSentEvent {
	return InvoiceSentEvent{
		InvoiceID:  inv.ID,
		Number:     inv.Number,
		ClientID:   inv.ClientID,
		ClientName: inv.ClientName,
		Amount:     inv.Amount.String(),
		DueDate:    inv.DueDate,
		SentBy:     sentBy,
		SentAt:     at,
	}
}

// Notifier hands sent invoices to the communications side.
type Notifier interface {
	InvoiceSent(ctx context.Context, event InvoiceSentEvent) error
}

// AuditRecorder persists audit trail entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyGuard claims request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module, fingerprint string) error
	Delete(ctx context.Context, key, module string) error
}

// SummaryCache stores computed summaries under versioned keys.
type SummaryCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context) error
}

// Metrics receives business counters.
type Metrics interface {
	InvoiceCreated(amount float64)
	InvoiceTransitioned(to Status)
	PaymentRecorded(method string, amount float64)
	InvoiceDeleted()
	IdempotentReplay()
}

// PDFRenderer converts HTML into PDF bytes.
type PDFRenderer interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}
