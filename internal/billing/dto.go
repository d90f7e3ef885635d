package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

const dateLayout = "2006-01-02"

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, shared.Wrap(shared.ErrValidation, "invalid date %q, expected YYYY-MM-DD", raw)
	}
	return t, nil
}

type createInvoiceRequest struct {
	MatterID       int64            `json:"matterId" validate:"required,gt=0"`
	TaxRatePercent *decimal.Decimal `json:"taxRatePercent"`
	DiscountAmount *ledger.Money    `json:"discountAmount"`
	Notes          string           `json:"notes" validate:"max=4000"`
	Terms          string           `json:"terms" validate:"max=255"`
	DueDate        string           `json:"dueDate"`
}

func (r createInvoiceRequest) toInput() (CreateInvoiceInput, error) {
	input := CreateInvoiceInput{
		MatterID:       r.MatterID,
		TaxRatePercent: decimal.Zero,
		Discount:       ledger.Zero(),
		Notes:          strings.TrimSpace(r.Notes),
		Terms:          strings.TrimSpace(r.Terms),
	}
	if r.TaxRatePercent != nil {
		input.TaxRatePercent = *r.TaxRatePercent
	}
	if r.DiscountAmount != nil {
		input.Discount = *r.DiscountAmount
	}
	due, err := parseDate(r.DueDate)
	if err != nil {
		return CreateInvoiceInput{}, err
	}
	if !due.IsZero() {
		input.DueDate = &due
	}
	return input, nil
}

type transitionRequest struct {
	Status  string `json:"status" validate:"required"`
	Confirm bool   `json:"confirm"`
}

type paymentRequest struct {
	Amount    ledger.Money `json:"amount"`
	Date      string       `json:"date"`
	Method    string       `json:"method" validate:"required"`
	Reference string       `json:"reference" validate:"max=255"`
}

func (r paymentRequest) toInput() (RecordPaymentInput, error) {
	method, err := ledger.ParsePaymentMethod(r.Method)
	if err != nil {
		return RecordPaymentInput{}, shared.Wrap(shared.ErrValidation, "%v", err)
	}
	date, err := parseDate(r.Date)
	if err != nil {
		return RecordPaymentInput{}, err
	}
	return RecordPaymentInput{
		Amount:    r.Amount,
		Date:      date,
		Method:    method,
		Reference: r.Reference,
	}, nil
}

type timeEntryRequest struct {
	Description     string       `json:"description" validate:"required,max=1000"`
	DurationMinutes int          `json:"durationMinutes" validate:"gte=0"`
	HourlyRate      ledger.Money `json:"hourlyRate"`
	Date            string       `json:"date"`
}

type expenseRequest struct {
	Description string       `json:"description" validate:"required,max=1000"`
	Amount      ledger.Money `json:"amount"`
	Date        string       `json:"date"`
	Category    string       `json:"category" validate:"max=100"`
}

// assignedRequest carries the optional matter for unassigned-capable writes.
type assignedRequest struct {
	MatterID *int64 `json:"matterId,omitempty"`
}

type invoiceResponse struct {
	Invoice
	TotalPaid          ledger.Money  `json:"totalPaid"`
	RemainingBalance   ledger.Money  `json:"remainingBalance"`
	DisplayStatus      DisplayStatus `json:"displayStatus"`
	DaysOverdue        int           `json:"daysOverdue"`
	AllowedTransitions []Status      `json:"allowedTransitions"`
}

func newInvoiceResponse(inv Invoice, now time.Time) invoiceResponse {
	allowed := AllowedTransitions(inv.Status)
	if allowed == nil {
		allowed = []Status{}
	}
	if inv.LineItems == nil {
		inv.LineItems = []ledger.LineItem{}
	}
	if inv.Payments == nil {
		inv.Payments = []ledger.Payment{}
	}
	return invoiceResponse{
		Invoice:            inv,
		TotalPaid:          inv.TotalPaid(),
		RemainingBalance:   inv.RemainingBalance(),
		DisplayStatus:      inv.DisplayStatus(now),
		DaysOverdue:        inv.DaysOverdue(now),
		AllowedTransitions: allowed,
	}
}

type invoiceListResponse struct {
	Items      []invoiceResponse `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}
