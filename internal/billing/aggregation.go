package billing

import (
	"github.com/shopspring/decimal"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

var hundredPercent = decimal.NewFromInt(100)

// PreviewOptions are the caller-chosen adjustments applied on top of the
// unbilled work of a matter.
type PreviewOptions struct {
	TaxRatePercent decimal.Decimal
	Discount       ledger.Money
}

// Validate checks tax is within 0-100 and discount is not negative.
func (o PreviewOptions) Validate() error {
	if o.TaxRatePercent.IsNegative() || o.TaxRatePercent.GreaterThan(hundredPercent) {
		return shared.Wrap(shared.ErrValidation, "tax rate must be between 0 and 100, got %s", o.TaxRatePercent)
	}
	if o.Discount.IsNegative() {
		return shared.Wrap(shared.ErrValidation, "discount cannot be negative")
	}
	if !o.Discount.Storable() {
		return shared.Wrap(shared.ErrValidation, "discount %s exceeds %s", o.Discount, ledger.MaxAmount)
	}
	return nil
}

// Preview is the would-be invoice for the unbilled work of a matter.
// Total may be negative when the discount is too large; creation rejects it.
type Preview struct {
	MatterID       int64             `json:"matterId"`
	LineItems      []ledger.LineItem `json:"lineItems"`
	Subtotal       ledger.Money      `json:"subtotal"`
	TaxRatePercent decimal.Decimal   `json:"taxRatePercent"`
	TaxAmount      ledger.Money      `json:"taxAmount"`
	Discount       ledger.Money      `json:"discount"`
	Total          ledger.Money      `json:"total"`
	TimeHours      ledger.Quantity   `json:"timeHours"`
	ExpenseCount   int               `json:"expenseCount"`
}

// BuildPreview selects the unbilled entries and expenses of matterID and
// prices them. Time lines come first, then expense lines, each in input
// order. It never modifies its inputs.
func BuildPreview(matterID int64, entries []TimeEntry, expenses []Expense, opts PreviewOptions) (Preview, error) {
	if matterID <= 0 {
		return Preview{}, shared.Wrap(shared.ErrValidation, "matter id required")
	}
	if err := opts.Validate(); err != nil {
		return Preview{}, err
	}

	items := make([]ledger.LineItem, 0, len(entries)+len(expenses))
	hours := decimal.Zero
	for _, e := range entries {
		if e.Billed || !belongsTo(e.MatterID, matterID) {
			continue
		}
		line := e.Line()
		hours = hours.Add(line.Quantity.Decimal)
		items = append(items, line)
	}
	expenseCount := 0
	for _, e := range expenses {
		if e.Billed || !belongsTo(e.MatterID, matterID) {
			continue
		}
		items = append(items, e.Line())
		expenseCount++
	}

	for _, line := range items {
		if !line.Amount.Storable() {
			return Preview{}, shared.Wrap(shared.ErrValidation, "line %q amount %s exceeds %s", line.Description, line.Amount, ledger.MaxAmount)
		}
	}
	subtotal := ledger.SumLineItems(items)
	tax := subtotal.Percent(opts.TaxRatePercent)
	if total := subtotal.Add(tax); !total.Storable() {
		return Preview{}, shared.Wrap(shared.ErrValidation, "invoice total %s exceeds %s", total, ledger.MaxAmount)
	}
	return Preview{
		MatterID:       matterID,
		LineItems:      items,
		Subtotal:       subtotal,
		TaxRatePercent: opts.TaxRatePercent,
		TaxAmount:      tax,
		Discount:       opts.Discount,
		Total:          subtotal.Add(tax).Sub(opts.Discount),
		TimeHours:      ledger.NewQuantity(hours),
		ExpenseCount:   expenseCount,
	}, nil
}
