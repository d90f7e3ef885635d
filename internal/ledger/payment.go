package ledger

import (
	"fmt"
	"strings"
	"time"
)

// PaymentMethod enumerates accepted payment channels.
type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCreditCard   PaymentMethod = "CREDIT_CARD"
	MethodCheck        PaymentMethod = "CHECK"
	MethodCash         PaymentMethod = "CASH"
	MethodOther        PaymentMethod = "OTHER"
)

// ParsePaymentMethod accepts the canonical values as well as the spaced or
// camel-cased labels the web client sends ("Bank Transfer", "CreditCard").
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	switch key {
	case "BANKTRANSFER", "TRANSFER", "WIRE":
		return MethodBankTransfer, nil
	case "CREDITCARD", "CARD":
		return MethodCreditCard, nil
	case "CHECK", "CHEQUE":
		return MethodCheck, nil
	case "CASH":
		return MethodCash, nil
	case "OTHER":
		return MethodOther, nil
	}
	return "", fmt.Errorf("ledger: unknown payment method %q", s)
}

// Payment is an immutable record of money received against an invoice.
type Payment struct {
	ID        int64         `json:"id"`
	Date      time.Time     `json:"date"`
	Amount    Money         `json:"amount"`
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// SumPayments totals payment amounts.
func SumPayments(payments []Payment) Money {
	total := Zero()
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}
