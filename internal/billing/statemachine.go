package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

// DraftInput carries what is needed to open an invoice from a preview.
type DraftInput struct {
	Number  string
	Matter  Matter
	Preview Preview
	DueDate time.Time
	Notes   string
	Terms   string
	Now     time.Time
}

// NewDraftInvoice creates an invoice in DRAFT with no payments. Amount is
// subtotal + tax - discount and is never recalculated afterwards.
func NewDraftInvoice(in DraftInput) (*Invoice, error) {
	if strings.TrimSpace(in.Number) == "" {
		return nil, shared.Wrap(shared.ErrValidation, "invoice number required")
	}
	p := in.Preview
	if len(p.LineItems) == 0 || p.Subtotal.IsZero() {
		return nil, shared.Wrap(shared.ErrValidation, "matter %d has nothing to bill", in.Matter.ID)
	}
	if !p.Total.IsPositive() {
		return nil, shared.Wrap(shared.ErrValidation, "discount %s exceeds subtotal plus tax", p.Discount)
	}
	if !p.Total.Equal(p.Subtotal.Add(p.TaxAmount).Sub(p.Discount)) {
		return nil, shared.Wrap(shared.ErrValidation, "preview total does not reconcile")
	}
	for _, item := range p.LineItems {
		if err := item.Validate(); err != nil {
			return nil, shared.Wrap(shared.ErrValidation, "%v", err)
		}
	}
	if in.DueDate.Before(startOfDay(in.Now)) {
		return nil, shared.Wrap(shared.ErrValidation, "due date %s is in the past", in.DueDate.Format(time.DateOnly))
	}
	return &Invoice{
		Number:         in.Number,
		MatterID:       in.Matter.ID,
		ClientID:       in.Matter.ClientID,
		ClientName:     in.Matter.ClientName,
		Amount:         p.Total,
		Subtotal:       p.Subtotal,
		Tax:            p.TaxAmount,
		Discount:       p.Discount,
		TaxRatePercent: p.TaxRatePercent,
		DueDate:        in.DueDate,
		Status:         StatusDraft,
		LineItems:      append([]ledger.LineItem(nil), p.LineItems...),
		Payments:       []ledger.Payment{},
		Notes:          in.Notes,
		Terms:          in.Terms,
		CreatedAt:      in.Now,
		UpdatedAt:      in.Now,
	}, nil
}

// FormatInvoiceNumber renders INV-{year}-{seq:04d}.
func FormatInvoiceNumber(year, seq int) string {
	return fmt.Sprintf("INV-%d-%04d", year, seq)
}

// SendPrompt is the confirmation question shown before sending.
func (inv Invoice) SendPrompt() string {
	return fmt.Sprintf("Send invoice %s to client %s?", inv.Number, inv.ClientName)
}

func illegal(inv *Invoice, to Status) error {
	return shared.Wrap(shared.ErrIllegalTransition, "invoice %s cannot move from %s to %s", inv.Number, inv.Status, to)
}

// Approve moves DRAFT to APPROVED.
func (inv *Invoice) Approve(now time.Time) error {
	return inv.Transition(StatusApproved, false, now)
}

// Send moves DRAFT or APPROVED to SENT once confirmed.
func (inv *Invoice) Send(confirm bool, now time.Time) error {
	return inv.Transition(StatusSent, confirm, now)
}

// Cancel voids an invoice that has not collected any money.
func (inv *Invoice) Cancel(now time.Time) error {
	return inv.Transition(StatusCancelled, false, now)
}

// WriteOff abandons the remaining balance of a sent invoice.
func (inv *Invoice) WriteOff(now time.Time) error {
	return inv.Transition(StatusWrittenOff, false, now)
}

// Transition applies a manual status change. Every rejection leaves the
// invoice untouched.
func (inv *Invoice) Transition(to Status, confirm bool, now time.Time) error {
	if !to.Valid() {
		return shared.Wrap(shared.ErrValidation, "unknown invoice status %q", to)
	}
	if to == StatusPaid || to == StatusPartiallyPaid {
		return shared.Wrap(shared.ErrIllegalTransition, "%s is reached by recording payments", to)
	}
	if !CanTransition(inv.Status, to) {
		return illegal(inv, to)
	}
	switch to {
	case StatusSent:
		if !confirm {
			return shared.NeedsConfirmation(inv.SendPrompt())
		}
	case StatusCancelled:
		if len(inv.Payments) > 0 {
			return shared.Wrap(shared.ErrIllegalTransition, "invoice %s has payments and cannot be cancelled", inv.Number)
		}
	}
	inv.Status = to
	inv.UpdatedAt = now
	return nil
}

// RecordPayment appends p and re-derives the status: PAID once payments
// cover Amount, otherwise PARTIALLY_PAID.
func (inv *Invoice) RecordPayment(p ledger.Payment, now time.Time) error {
	if !p.Amount.IsPositive() {
		return shared.Wrap(shared.ErrValidation, "payment amount must be positive, got %s", p.Amount)
	}
	if p.Method == "" {
		return shared.Wrap(shared.ErrValidation, "payment method required")
	}
	if inv.Status.IsTerminal() {
		return shared.Wrap(shared.ErrIllegalTransition, "invoice %s is %s and accepts no payments", inv.Number, inv.Status)
	}
	remaining := inv.RemainingBalance()
	if p.Amount.GreaterThan(remaining) {
		return shared.Wrap(shared.ErrInsufficientBalance, "payment %s exceeds remaining balance %s", p.Amount, remaining)
	}
	if p.Date.IsZero() {
		p.Date = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	inv.Payments = append(inv.Payments, p)
	if inv.TotalPaid().Cmp(inv.Amount) >= 0 {
		inv.Status = StatusPaid
	} else {
		inv.Status = StatusPartiallyPaid
	}
	inv.UpdatedAt = now
	return nil
}
