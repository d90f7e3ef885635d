package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lexledger/lexledger/internal/ledger"
)

// OverdueInvoice is a row of the overdue listing.
type OverdueInvoice struct {
	ID          int64        `json:"id"`
	Number      string       `json:"number"`
	ClientName  string       `json:"clientName"`
	Amount      ledger.Money `json:"amount"`
	Remaining   ledger.Money `json:"remaining"`
	DueDate     time.Time    `json:"dueDate"`
	DaysOverdue int          `json:"daysOverdue"`
}

// Summary is the dashboard projection over all invoices and unbilled work.
// TotalOutstanding sums Amount of invoices that are neither PAID nor closed
// and OutstandingBalance what is still owed on them. TotalPaid is cash
// received; PaidInvoicesTotal sums Amount of PAID invoices.
type Summary struct {
	TotalOutstanding   ledger.Money     `json:"totalOutstanding"`
	OutstandingBalance ledger.Money     `json:"outstandingBalance"`
	TotalPaid          ledger.Money     `json:"totalPaid"`
	PaidInvoicesTotal  ledger.Money     `json:"paidInvoicesTotal"`
	ThisMonthPaid      ledger.Money     `json:"thisMonthPaid"`
	CollectedThisMonth ledger.Money     `json:"collectedThisMonth"`
	TotalOverdue       ledger.Money     `json:"totalOverdue"`
	OverdueCount       int              `json:"overdueCount"`
	OverdueInvoices    []OverdueInvoice `json:"overdueInvoices"`
	TotalWIP           ledger.Money     `json:"totalWip"`
	UnbilledHours      ledger.Quantity  `json:"unbilledHours"`
	InvoiceCount       int              `json:"invoiceCount"`
	CountsByStatus     map[Status]int   `json:"countsByStatus"`
	GeneratedAt        time.Time        `json:"generatedAt"`
}

// Summarize computes the dashboard. It reads only; callers may pass
// slightly stale collections.
func Summarize(invoices []Invoice, entries []TimeEntry, expenses []Expense, now time.Time) Summary {
	s := Summary{
		OverdueInvoices: []OverdueInvoice{},
		CountsByStatus:  make(map[Status]int, len(Statuses())),
		GeneratedAt:     now,
	}
	for _, st := range Statuses() {
		s.CountsByStatus[st] = 0
	}
	var (
		outstanding, balance, cash, paidTotal, monthCash, overdue, wip []ledger.Money
	)
	for _, inv := range invoices {
		s.InvoiceCount++
		s.CountsByStatus[inv.Status]++
		for _, p := range inv.Payments {
			cash = append(cash, p.Amount)
			if sameMonth(p.Date, now) {
				monthCash = append(monthCash, p.Amount)
			}
		}
		switch {
		case inv.Status == StatusPaid:
			paidTotal = append(paidTotal, inv.Amount)
		case inv.Status.IsClosed():
			// cancelled and written-off invoices are no longer collectable
		default:
			outstanding = append(outstanding, inv.Amount)
			balance = append(balance, inv.RemainingBalance())
		}
		if inv.IsOverdue(now) {
			overdue = append(overdue, inv.Amount)
			s.OverdueInvoices = append(s.OverdueInvoices, OverdueInvoice{
				ID:          inv.ID,
				Number:      inv.Number,
				ClientName:  inv.ClientName,
				Amount:      inv.Amount,
				Remaining:   inv.RemainingBalance(),
				DueDate:     inv.DueDate,
				DaysOverdue: inv.DaysOverdue(now),
			})
		}
	}

	hours := decimal.Zero
	for _, e := range entries {
		if e.Billed {
			continue
		}
		line := e.Line()
		wip = append(wip, line.Amount)
		hours = hours.Add(line.Quantity.Decimal)
	}
	for _, e := range expenses {
		if e.Billed {
			continue
		}
		wip = append(wip, e.Amount)
	}

	s.TotalOutstanding = ledger.Sum(outstanding...)
	s.OutstandingBalance = ledger.Sum(balance...)
	s.TotalPaid = ledger.Sum(cash...)
	s.PaidInvoicesTotal = ledger.Sum(paidTotal...)
	s.ThisMonthPaid = ThisMonthPaidLiteral(invoices)
	s.CollectedThisMonth = ledger.Sum(monthCash...)
	s.TotalOverdue = ledger.Sum(overdue...)
	s.OverdueCount = len(s.OverdueInvoices)
	s.TotalWIP = ledger.Sum(wip...)
	s.UnbilledHours = ledger.NewQuantity(hours)
	return s
}

// ThisMonthPaidLiteral sums the Amount of every PAID invoice regardless of
// when it was paid, matching the figure the dashboard has always shown.
// TODO: confirm with the billing team whether this should be restricted to
// the current month; CollectedThisMonth already offers the month-bounded cash figure.
func ThisMonthPaidLiteral(invoices []Invoice) ledger.Money {
	total := ledger.Zero()
	for _, inv := range invoices {
		if inv.Status == StatusPaid {
			total = total.Add(inv.Amount)
		}
	}
	return total
}

func sameMonth(a, b time.Time) bool {
	a = a.In(b.Location())
	return a.Year() == b.Year() && a.Month() == b.Month()
}
