package billing

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

var testNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func sentInvoice(amount string) *Invoice {
	return &Invoice{
		ID:         1,
		Number:     "INV-2024-0001",
		ClientName: "Acme LLP",
		Amount:     money(amount),
		Subtotal:   money(amount),
		DueDate:    testNow.AddDate(0, 0, 30),
		Status:     StatusSent,
		Payments:   []ledger.Payment{},
	}
}

func pay(amount string) ledger.Payment {
	return ledger.Payment{Amount: money(amount), Date: testNow, Method: ledger.MethodBankTransfer}
}

func TestRecordPaymentScenarioB(t *testing.T) {
	inv := sentInvoice("1000.00")

	require.NoError(t, inv.RecordPayment(pay("400.00"), testNow))
	require.Equal(t, StatusPartiallyPaid, inv.Status)
	require.Equal(t, "600.00", inv.RemainingBalance().String())

	require.NoError(t, inv.RecordPayment(pay("600.00"), testNow))
	require.Equal(t, StatusPaid, inv.Status)
	require.Equal(t, "0.00", inv.RemainingBalance().String())
	require.Len(t, inv.Payments, 2)
}

func TestRecordPaymentScenarioC(t *testing.T) {
	inv := sentInvoice("1000.00")
	require.NoError(t, inv.RecordPayment(pay("1000.00"), testNow))
	require.Equal(t, StatusPaid, inv.Status)

	err := inv.RecordPayment(pay("50.00"), testNow)
	require.ErrorIs(t, err, shared.ErrIllegalTransition)
	require.Len(t, inv.Payments, 1)
	require.Equal(t, "0.00", inv.RemainingBalance().String())
}

func TestRecordPaymentScenarioD(t *testing.T) {
	inv := sentInvoice("1000.00")
	require.NoError(t, inv.RecordPayment(pay("100.00"), testNow))

	err := inv.RecordPayment(pay("-10.00"), testNow)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, inv.Payments, 1)
	require.Equal(t, StatusPartiallyPaid, inv.Status)

	require.ErrorIs(t, inv.RecordPayment(pay("0"), testNow), shared.ErrValidation)
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	inv := sentInvoice("250.00")
	require.NoError(t, inv.RecordPayment(pay("200.00"), testNow))
	err := inv.RecordPayment(pay("50.01"), testNow)
	require.ErrorIs(t, err, shared.ErrInsufficientBalance)
	require.Len(t, inv.Payments, 1)
}

func TestRecordPaymentRejectedOnClosedInvoices(t *testing.T) {
	for _, status := range []Status{StatusCancelled, StatusWrittenOff} {
		inv := sentInvoice("100.00")
		inv.Status = status
		require.ErrorIs(t, inv.RecordPayment(pay("10"), testNow), shared.ErrIllegalTransition, status)
	}
}

// Random valid payment sequences keep paid totals monotonic and bounded, and
// the status always matches the paid total.
func TestRecordPaymentPropertiesHoldForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		cents := int64(rng.Intn(500000) + 1)
		inv := sentInvoice(ledger.FromCents(cents).String())
		previous := ledger.Zero()
		for step := 0; step < 20 && inv.Status != StatusPaid; step++ {
			remaining := inv.RemainingBalance()
			remCents := remaining.Decimal().Shift(2).IntPart()
			amount := ledger.FromCents(rng.Int63n(remCents+50) + 1)
			err := inv.RecordPayment(ledger.Payment{Amount: amount, Method: ledger.MethodCash}, testNow)
			if amount.GreaterThan(remaining) {
				require.ErrorIs(t, err, shared.ErrInsufficientBalance)
			} else {
				require.NoError(t, err)
			}
			paid := inv.TotalPaid()
			require.False(t, paid.LessThan(previous))
			require.False(t, paid.GreaterThan(inv.Amount))
			if paid.Cmp(inv.Amount) >= 0 {
				require.Equal(t, StatusPaid, inv.Status)
			} else if len(inv.Payments) > 0 {
				require.Equal(t, StatusPartiallyPaid, inv.Status)
			}
			previous = paid
		}
	}
}

func TestTransitionHappyPath(t *testing.T) {
	inv := &Invoice{Number: "INV-2024-0002", ClientName: "Blue Harbor Ltd", Status: StatusDraft, Amount: money("10")}
	require.NoError(t, inv.Approve(testNow))
	require.Equal(t, StatusApproved, inv.Status)

	err := inv.Send(false, testNow)
	require.ErrorIs(t, err, shared.ErrConfirmationRequired)
	require.Contains(t, err.Error(), "Send invoice INV-2024-0002 to client Blue Harbor Ltd?")
	require.Equal(t, StatusApproved, inv.Status)

	require.NoError(t, inv.Send(true, testNow))
	require.Equal(t, StatusSent, inv.Status)
	require.Equal(t, testNow, inv.UpdatedAt)
}

func TestTransitionRejections(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		payment bool
		want    error
	}{
		{from: StatusPaid, to: StatusSent, want: shared.ErrIllegalTransition},
		{from: StatusSent, to: StatusApproved, want: shared.ErrIllegalTransition},
		{from: StatusSent, to: StatusDraft, want: shared.ErrIllegalTransition},
		{from: StatusDraft, to: StatusPaid, want: shared.ErrIllegalTransition},
		{from: StatusSent, to: StatusPartiallyPaid, want: shared.ErrIllegalTransition},
		{from: StatusDraft, to: StatusWrittenOff, want: shared.ErrIllegalTransition},
		{from: StatusCancelled, to: StatusApproved, want: shared.ErrIllegalTransition},
		{from: StatusWrittenOff, to: StatusCancelled, want: shared.ErrIllegalTransition},
		{from: StatusPartiallyPaid, to: StatusCancelled, payment: true, want: shared.ErrIllegalTransition},
		{from: StatusApproved, to: StatusApproved, want: shared.ErrIllegalTransition},
		{from: StatusDraft, to: Status("Overdue"), want: shared.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			inv := &Invoice{Number: "INV-2024-0003", Status: tc.from, Amount: money("100")}
			if tc.payment {
				inv.Payments = []ledger.Payment{pay("10")}
			}
			err := inv.Transition(tc.to, true, testNow)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, tc.from, inv.Status)
		})
	}
}

func TestCancelAndWriteOff(t *testing.T) {
	draft := &Invoice{Status: StatusDraft}
	require.NoError(t, draft.Cancel(testNow))
	require.Equal(t, StatusCancelled, draft.Status)

	partial := sentInvoice("100")
	require.NoError(t, partial.RecordPayment(pay("40"), testNow))
	require.ErrorIs(t, partial.Cancel(testNow), shared.ErrIllegalTransition)
	require.NoError(t, partial.WriteOff(testNow))
	require.Equal(t, StatusWrittenOff, partial.Status)
}

func TestNewDraftInvoice(t *testing.T) {
	preview, err := BuildPreview(5, []TimeEntry{{ID: 1, MatterID: ptr(int64(5)), DurationMinutes: 60, HourlyRate: money("200")}}, nil,
		PreviewOptions{TaxRatePercent: decimal.NewFromInt(5), Discount: money("10")})
	require.NoError(t, err)
	matter := Matter{ID: 5, ClientID: 9, ClientName: "Acme LLP"}

	inv, err := NewDraftInvoice(DraftInput{Number: FormatInvoiceNumber(2024, 7), Matter: matter, Preview: preview, DueDate: testNow.AddDate(0, 0, 30), Now: testNow})
	require.NoError(t, err)
	require.Equal(t, "INV-2024-0007", inv.Number)
	require.Equal(t, StatusDraft, inv.Status)
	require.Empty(t, inv.Payments)
	require.Equal(t, "200.00", inv.Subtotal.String())
	require.Equal(t, "10.00", inv.Tax.String())
	require.Equal(t, "200.00", inv.Amount.String())
	require.Equal(t, "Acme LLP", inv.ClientName)

	preview.Discount = money("500")
	preview.Total = preview.Subtotal.Add(preview.TaxAmount).Sub(preview.Discount)
	_, err = NewDraftInvoice(DraftInput{Number: "INV-2024-0008", Matter: matter, Preview: preview, DueDate: testNow, Now: testNow})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = NewDraftInvoice(DraftInput{Number: "INV-2024-0009", Matter: matter, Preview: Preview{}, DueDate: testNow, Now: testNow})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDisplayStatusDerivesOverdue(t *testing.T) {
	inv := sentInvoice("100")
	inv.DueDate = time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)
	require.Equal(t, DisplayOverdue, inv.DisplayStatus(testNow))
	require.Equal(t, StatusSent, inv.Status)
	require.Equal(t, 1, inv.DaysOverdue(testNow))

	inv.DueDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, DisplayStatus(StatusSent), inv.DisplayStatus(testNow))

	inv.DueDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, st := range []Status{StatusPaid, StatusCancelled, StatusWrittenOff} {
		inv.Status = st
		require.Equal(t, DisplayStatus(st), inv.DisplayStatus(testNow))
	}
	for _, st := range []Status{StatusDraft, StatusApproved, StatusPartiallyPaid} {
		inv.Status = st
		require.Equal(t, DisplayOverdue, inv.DisplayStatus(testNow))
	}
}
