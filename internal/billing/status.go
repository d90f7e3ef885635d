package billing

import (
	"strings"

	"github.com/lexledger/lexledger/internal/shared"
)

// Status is the persisted lifecycle state of an invoice.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusApproved      Status = "APPROVED"
	StatusSent          Status = "SENT"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
	StatusWrittenOff    Status = "WRITTEN_OFF"
)

// Statuses lists every canonical status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusDraft, StatusApproved, StatusSent, StatusPartiallyPaid, StatusPaid, StatusCancelled, StatusWrittenOff}
}

// IsClosed reports the absorbing non-payment states.
func (s Status) IsClosed() bool {
	return s == StatusCancelled || s == StatusWrittenOff
}

// IsTerminal reports states that accept no further transitions or payments.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s.IsClosed()
}

// Valid reports whether s is canonical.
func (s Status) Valid() bool {
	for _, known := range Statuses() {
		if s == known {
			return true
		}
	}
	return false
}

// ParseStatus accepts canonical values only.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.TrimSpace(raw))
	if !s.Valid() {
		return "", shared.Wrap(shared.ErrValidation, "unknown invoice status %q", raw)
	}
	return s, nil
}

var legacyStatuses = map[string]Status{
	"DRAFT":         StatusDraft,
	"APPROVED":      StatusApproved,
	"SENT":          StatusSent,
	"PARTIAL":       StatusPartiallyPaid,
	"PARTIALLYPAID": StatusPartiallyPaid,
	"PAID":          StatusPaid,
	"CANCELLED":     StatusCancelled,
	"CANCELED":      StatusCancelled,
	"VOID":          StatusCancelled,
	"WRITTENOFF":    StatusWrittenOff,
	"WRITEOFF":      StatusWrittenOff,
	"OVERDUE":       StatusSent,
}

// NormalizeLegacyStatus maps both the word statuses of imported data
// ("Draft", "Partial", "Written Off") and canonical values onto Status.
// "Overdue" becomes SENT since overdue is a derived display state.
func NormalizeLegacyStatus(raw string) (Status, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	key = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(key)
	if s, ok := legacyStatuses[key]; ok {
		return s, nil
	}
	return "", shared.Wrap(shared.ErrValidation, "cannot normalise invoice status %q", raw)
}

// DisplayStatus is a Status or the derived OVERDUE marker.
type DisplayStatus string

// DisplayOverdue marks a collectable invoice past its due date.
const DisplayOverdue DisplayStatus = "OVERDUE"

// manualTransitions lists the targets reachable through a status update.
// PARTIALLY_PAID and PAID are only reached by recording payments.
var manualTransitions = map[Status][]Status{
	StatusDraft:         {StatusApproved, StatusSent, StatusCancelled},
	StatusApproved:      {StatusSent, StatusCancelled},
	StatusSent:          {StatusCancelled, StatusWrittenOff},
	StatusPartiallyPaid: {StatusWrittenOff},
}

// CanTransition reports whether a status update from -> to is permitted,
// ignoring payment-dependent guards.
func CanTransition(from, to Status) bool {
	for _, allowed := range manualTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the manual targets reachable from s.
func AllowedTransitions(s Status) []Status {
	return append([]Status(nil), manualTransitions[s]...)
}
