// Package billing implements the invoice lifecycle of the practice: turning
// unbilled time and expenses into invoices, recording payments against them
// and projecting portfolio-level billing figures.
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lexledger/lexledger/internal/ledger"
)

// Matter is the read-only view of a case this package bills against.
type Matter struct {
	ID         int64  `json:"id"`
	CaseNumber string `json:"caseNumber"`
	Title      string `json:"title"`
	ClientID   int64  `json:"clientId"`
	ClientName string `json:"clientName"`
}

// TimeEntry is recorded work. MatterID is nil for unassigned time.
type TimeEntry struct {
	ID              int64        `json:"id"`
	MatterID        *int64       `json:"matterId,omitempty"`
	Description     string       `json:"description"`
	DurationMinutes int          `json:"durationMinutes"`
	HourlyRate      ledger.Money `json:"hourlyRate"`
	Date            time.Time    `json:"date"`
	Billed          bool         `json:"billed"`
	InvoiceID       *int64       `json:"invoiceId,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// Line derives the invoice line for the entry.
func (e TimeEntry) Line() ledger.LineItem {
	return ledger.TimeLine(e.ID, e.Description, e.DurationMinutes, e.HourlyRate)
}

// Value is the billable value of the entry.
func (e TimeEntry) Value() ledger.Money {
	return e.Line().Amount
}

// Expense is a pass-through disbursement. MatterID is nil when unassigned.
type Expense struct {
	ID          int64        `json:"id"`
	MatterID    *int64       `json:"matterId,omitempty"`
	Description string       `json:"description"`
	Amount      ledger.Money `json:"amount"`
	Date        time.Time    `json:"date"`
	Category    string       `json:"category"`
	Billed      bool         `json:"billed"`
	InvoiceID   *int64       `json:"invoiceId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Line derives the invoice line for the expense.
func (e Expense) Line() ledger.LineItem {
	return ledger.ExpenseLine(e.ID, e.Description, e.Amount)
}

func belongsTo(matterID *int64, id int64) bool {
	return matterID != nil && *matterID == id
}

// Invoice is a bill issued to the client of a matter. Amount, Subtotal, Tax,
// Discount and LineItems are fixed when the invoice is created; only Status
// and Payments change afterwards.
type Invoice struct {
	ID             int64             `json:"id"`
	Number         string            `json:"number"`
	MatterID       int64             `json:"matterId"`
	ClientID       int64             `json:"clientId"`
	ClientName     string            `json:"clientName"`
	Amount         ledger.Money      `json:"amount"`
	Subtotal       ledger.Money      `json:"subtotal"`
	Tax            ledger.Money      `json:"tax"`
	Discount       ledger.Money      `json:"discount"`
	TaxRatePercent decimal.Decimal   `json:"taxRatePercent"`
	DueDate        time.Time         `json:"dueDate"`
	Status         Status            `json:"status"`
	LineItems      []ledger.LineItem `json:"lineItems"`
	Payments       []ledger.Payment  `json:"payments"`
	Notes          string            `json:"notes"`
	Terms          string            `json:"terms"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// TotalPaid sums the recorded payments.
func (inv Invoice) TotalPaid() ledger.Money {
	return ledger.SumPayments(inv.Payments)
}

// RemainingBalance is Amount minus payments, never below zero.
func (inv Invoice) RemainingBalance() ledger.Money {
	return inv.Amount.Sub(inv.TotalPaid()).Max(ledger.Zero())
}

// IsOverdue reports whether the invoice is still collectable and past due.
func (inv Invoice) IsOverdue(now time.Time) bool {
	if inv.Status == StatusPaid || inv.Status.IsClosed() {
		return false
	}
	return pastDue(inv.DueDate, now)
}

// DisplayStatus is the status shown in listings. Overdue is derived here
// and never persisted.
func (inv Invoice) DisplayStatus(now time.Time) DisplayStatus {
	if inv.IsOverdue(now) {
		return DisplayOverdue
	}
	return DisplayStatus(inv.Status)
}

// DaysOverdue counts whole days past the due date.
func (inv Invoice) DaysOverdue(now time.Time) int {
	if !inv.IsOverdue(now) {
		return 0
	}
	return int(startOfDay(now).Sub(startOfDay(inv.DueDate)).Hours() / 24)
}

// pastDue compares calendar days: an invoice due today is not overdue.
func pastDue(due, now time.Time) bool {
	return startOfDay(due).Before(startOfDay(now.In(due.Location())))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
