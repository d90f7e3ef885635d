// Package ledger holds the value objects shared by invoicing and reporting:
// money amounts, invoice line items and payment records.
package ledger

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of fractional digits kept for every stored amount.
const MinorDigits = 2

var hundred = decimal.NewFromInt(100)

// MaxAmount is the largest magnitude a NUMERIC(14,2) column holds.
var MaxAmount = Money{d: decimal.New(99999999999999, -MinorDigits)}

// Money is an amount in the single working currency. The zero value is 0.00.
type Money struct {
	d decimal.Decimal
}

// Zero returns 0.00.
func Zero() Money {
	return Money{}
}

// NewMoney builds Money from a decimal, rounding to MinorDigits.
func NewMoney(d decimal.Decimal) Money {
	return Money{d: d.Round(MinorDigits)}
}

// FromCents builds Money from integer minor units.
func FromCents(cents int64) Money {
	return Money{d: decimal.New(cents, -MinorDigits)}
}

// ParseMoney parses a decimal string such as "1073.05".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("ledger: invalid amount %q", s)
	}
	return NewMoney(d), nil
}

// MustParseMoney is ParseMoney for constants and tests.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying value.
func (m Money) Decimal() decimal.Decimal {
	return m.d
}

// Add returns m + o.
func (m Money) Add(o Money) Money {
	return Money{d: m.d.Add(o.d)}
}

// Sub returns m - o.
func (m Money) Sub(o Money) Money {
	return Money{d: m.d.Sub(o.d)}
}

// Mul multiplies by an arbitrary factor and rounds the product.
func (m Money) Mul(factor decimal.Decimal) Money {
	return NewMoney(m.d.Mul(factor))
}

// Percent returns pct percent of m, rounded.
func (m Money) Percent(pct decimal.Decimal) Money {
	return NewMoney(m.d.Mul(pct).Div(hundred))
}

// Cmp compares m and o like decimal.Cmp.
func (m Money) Cmp(o Money) int {
	return m.d.Cmp(o.d)
}

// Equal reports numeric equality.
func (m Money) Equal(o Money) bool {
	return m.d.Equal(o.d)
}

// GreaterThan reports m > o.
func (m Money) GreaterThan(o Money) bool {
	return m.d.GreaterThan(o.d)
}

// LessThan reports m < o.
func (m Money) LessThan(o Money) bool {
	return m.d.LessThan(o.d)
}

// IsZero reports m == 0.
func (m Money) IsZero() bool {
	return m.d.IsZero()
}

// IsNegative reports m < 0.
func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// IsPositive reports m > 0.
func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

// Storable reports whether |m| fits a NUMERIC(14,2) column.
func (m Money) Storable() bool {
	return m.d.Abs().LessThanOrEqual(MaxAmount.d)
}

// Max returns the larger of m and o.
func (m Money) Max(o Money) Money {
	if m.LessThan(o) {
		return o
	}
	return m
}

// String renders the amount with exactly MinorDigits fractional digits.
func (m Money) String() string {
	return m.d.StringFixed(MinorDigits)
}

// Float64 is for display and metrics only.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// MarshalJSON writes the amount as a bare JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts both numbers and quoted decimal strings.
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("ledger: invalid amount %s", string(data))
	}
	m.d = d.Round(MinorDigits)
	return nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	if err := d.Scan(src); err != nil {
		return err
	}
	m.d = d.Round(MinorDigits)
	return nil
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) {
	return m.String(), nil
}

// Sum adds up all amounts.
func Sum(amounts ...Money) Money {
	total := Zero()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
