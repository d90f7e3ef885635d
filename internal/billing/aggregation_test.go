package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

func ptr[T any](v T) *T { return &v }

func money(s string) ledger.Money { return ledger.MustParseMoney(s) }

func TestBuildPreviewScenarioA(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []TimeEntry{
		{ID: 1, MatterID: ptr(int64(7)), Description: "Draft motion", DurationMinutes: 120, HourlyRate: money("450"), Date: day},
		{ID: 2, MatterID: ptr(int64(7)), Description: "Already billed", DurationMinutes: 60, HourlyRate: money("450"), Billed: true},
		{ID: 3, MatterID: ptr(int64(8)), Description: "Other matter", DurationMinutes: 60, HourlyRate: money("300")},
		{ID: 4, Description: "Unassigned", DurationMinutes: 30, HourlyRate: money("300")},
	}
	expenses := []Expense{
		{ID: 10, MatterID: ptr(int64(7)), Description: "Court filing fee", Amount: money("75.50"), Date: day},
		{ID: 11, MatterID: ptr(int64(7)), Description: "Billed courier", Amount: money("20"), Billed: true},
	}

	preview, err := BuildPreview(7, entries, expenses, PreviewOptions{TaxRatePercent: decimal.NewFromInt(10)})
	require.NoError(t, err)

	require.Len(t, preview.LineItems, 2)
	require.Equal(t, ledger.LineItemTime, preview.LineItems[0].Type)
	require.Equal(t, int64(1), preview.LineItems[0].ID)
	require.Equal(t, "2", preview.LineItems[0].Quantity.String())
	require.Equal(t, "900.00", preview.LineItems[0].Amount.String())
	require.Equal(t, ledger.LineItemExpense, preview.LineItems[1].Type)
	require.Equal(t, "75.50", preview.LineItems[1].Amount.String())

	require.Equal(t, "975.50", preview.Subtotal.String())
	require.Equal(t, "97.55", preview.TaxAmount.String())
	require.Equal(t, "0.00", preview.Discount.String())
	require.Equal(t, "1073.05", preview.Total.String())
	require.Equal(t, "2", preview.TimeHours.String())
	require.Equal(t, 1, preview.ExpenseCount)
}

func TestBuildPreviewTotalsReconcile(t *testing.T) {
	cases := []struct {
		name     string
		minutes  []int
		rates    []string
		expenses []string
		tax      string
		discount string
	}{
		{name: "fractional hours", minutes: []int{50, 7, 13}, rates: []string{"300", "275.50", "199.99"}, expenses: []string{"12.34"}, tax: "8.25", discount: "10"},
		{name: "no tax", minutes: []int{90}, rates: []string{"120"}, tax: "0", discount: "0"},
		{name: "expenses only", expenses: []string{"0.01", "99.99", "1000"}, tax: "20", discount: "0.50"},
		{name: "full tax", minutes: []int{1, 1, 1}, rates: []string{"1", "1", "1"}, tax: "100", discount: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var entries []TimeEntry
			for i, m := range tc.minutes {
				entries = append(entries, TimeEntry{ID: int64(i + 1), MatterID: ptr(int64(1)), DurationMinutes: m, HourlyRate: money(tc.rates[i])})
			}
			var expenses []Expense
			for i, a := range tc.expenses {
				expenses = append(expenses, Expense{ID: int64(100 + i), MatterID: ptr(int64(1)), Amount: money(a)})
			}
			opts := PreviewOptions{TaxRatePercent: decimal.RequireFromString(tc.tax), Discount: money(tc.discount)}
			preview, err := BuildPreview(1, entries, expenses, opts)
			require.NoError(t, err)

			var timeSum, expenseSum []ledger.Money
			for _, item := range preview.LineItems {
				require.NoError(t, item.Validate())
				if item.Type == ledger.LineItemTime {
					timeSum = append(timeSum, item.Amount)
				} else {
					expenseSum = append(expenseSum, item.Amount)
				}
			}
			require.True(t, preview.Subtotal.Equal(ledger.Sum(timeSum...).Add(ledger.Sum(expenseSum...))))
			require.True(t, preview.Total.Equal(preview.Subtotal.Add(preview.TaxAmount).Sub(preview.Discount)))
			require.Equal(t, len(tc.expenses), preview.ExpenseCount)
		})
	}
}

func TestBuildPreviewIsPure(t *testing.T) {
	entries := []TimeEntry{{ID: 1, MatterID: ptr(int64(3)), DurationMinutes: 45, HourlyRate: money("320")}}
	expenses := []Expense{{ID: 2, MatterID: ptr(int64(3)), Amount: money("18.40")}}
	opts := PreviewOptions{TaxRatePercent: decimal.NewFromFloat(7.5), Discount: money("5")}

	first, err := BuildPreview(3, entries, expenses, opts)
	require.NoError(t, err)
	second, err := BuildPreview(3, entries, expenses, opts)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.False(t, entries[0].Billed)
	require.False(t, expenses[0].Billed)
}

func TestBuildPreviewAllowsNegativeTotal(t *testing.T) {
	expenses := []Expense{{ID: 1, MatterID: ptr(int64(1)), Amount: money("10")}}
	preview, err := BuildPreview(1, nil, expenses, PreviewOptions{Discount: money("25")})
	require.NoError(t, err)
	require.Equal(t, "-15.00", preview.Total.String())
}

func TestPreviewOptionsValidate(t *testing.T) {
	_, err := BuildPreview(1, nil, nil, PreviewOptions{TaxRatePercent: decimal.NewFromInt(101)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = BuildPreview(1, nil, nil, PreviewOptions{TaxRatePercent: decimal.NewFromInt(-1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = BuildPreview(1, nil, nil, PreviewOptions{Discount: money("-0.01")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = BuildPreview(0, nil, nil, PreviewOptions{})
	require.ErrorIs(t, err, shared.ErrValidation)
}
