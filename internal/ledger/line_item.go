package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// LineItemType identifies where a line item was derived from.
type LineItemType string

const (
	LineItemTime    LineItemType = "time"
	LineItemExpense LineItemType = "expense"
	LineItemFixed   LineItemType = "fixed"
)

// QuantityDigits is the precision of hour quantities on time lines.
const QuantityDigits = 4

var minutesPerHour = decimal.NewFromInt(60)

// Quantity is a line item quantity. It marshals as a bare JSON number.
type Quantity struct {
	decimal.Decimal
}

// NewQuantity wraps d.
func NewQuantity(d decimal.Decimal) Quantity {
	return Quantity{Decimal: d}
}

// MarshalJSON writes the quantity unquoted.
func (q Quantity) MarshalJSON() ([]byte, error) {
	return []byte(q.Decimal.String()), nil
}

// LineItem is one billed row of an invoice. ID is copied from the source
// time entry or expense so the invoice remembers exactly what it billed.
type LineItem struct {
	ID          int64        `json:"id"`
	Description string       `json:"description"`
	Quantity    Quantity     `json:"quantity"`
	Rate        Money        `json:"rate"`
	Amount      Money        `json:"amount"`
	Type        LineItemType `json:"type"`
}

// TimeLine derives a line from a duration in minutes at an hourly rate.
// The amount is computed from minutes to avoid compounding the rounding
// of the displayed hour quantity.
func TimeLine(id int64, description string, minutes int, rate Money) LineItem {
	mins := decimal.NewFromInt(int64(minutes))
	return LineItem{
		ID:          id,
		Description: description,
		Quantity:    NewQuantity(mins.DivRound(minutesPerHour, QuantityDigits)),
		Rate:        rate,
		Amount:      NewMoney(mins.Mul(rate.Decimal()).Div(minutesPerHour)),
		Type:        LineItemTime,
	}
}

// ExpenseLine derives a line from a pass-through expense: quantity 1, rate = amount.
func ExpenseLine(id int64, description string, amount Money) LineItem {
	return LineItem{
		ID:          id,
		Description: description,
		Quantity:    NewQuantity(decimal.NewFromInt(1)),
		Rate:        amount,
		Amount:      amount,
		Type:        LineItemExpense,
	}
}

// FixedLine builds a flat-fee line.
func FixedLine(id int64, description string, qty decimal.Decimal, rate Money) LineItem {
	return LineItem{
		ID:          id,
		Description: description,
		Quantity:    NewQuantity(qty),
		Rate:        rate,
		Amount:      rate.Mul(qty),
		Type:        LineItemFixed,
	}
}

// Validate checks the quantity/rate/amount relation for the line type.
func (l LineItem) Validate() error {
	if l.Rate.IsNegative() || l.Amount.IsNegative() {
		return errors.New("ledger: line item amounts cannot be negative")
	}
	switch l.Type {
	case LineItemExpense:
		if !l.Quantity.Equal(decimal.NewFromInt(1)) || !l.Rate.Equal(l.Amount) {
			return fmt.Errorf("ledger: expense line %d must have quantity 1 and rate equal to amount", l.ID)
		}
	case LineItemTime, LineItemFixed:
		// Quantities carry QuantityDigits, so the product may drift by half a
		// quantity unit times the rate, plus one cent of amount rounding.
		slack := l.Rate.Decimal().Mul(decimal.New(5, -QuantityDigits-1)).Add(decimal.New(1, -MinorDigits))
		diff := l.Rate.Decimal().Mul(l.Quantity.Decimal).Sub(l.Amount.Decimal()).Abs()
		if diff.GreaterThan(slack) {
			return fmt.Errorf("ledger: line %d amount %s does not match %s x %s", l.ID, l.Amount, l.Quantity, l.Rate)
		}
	default:
		return fmt.Errorf("ledger: unknown line item type %q", l.Type)
	}
	return nil
}

// SumLineItems totals the amounts of items.
func SumLineItems(items []LineItem) Money {
	total := Zero()
	for _, item := range items {
		total = total.Add(item.Amount)
	}
	return total
}
