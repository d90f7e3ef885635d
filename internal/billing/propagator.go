package billing

import (
	"context"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

// BilledSet is the exact set of source rows captured by an invoice.
type BilledSet struct {
	TimeEntryIDs []int64
	ExpenseIDs   []int64
}

// BilledSetFromLines recovers the source ids from invoice lines.
func BilledSetFromLines(items []ledger.LineItem) BilledSet {
	var set BilledSet
	for _, item := range items {
		switch item.Type {
		case ledger.LineItemTime:
			set.TimeEntryIDs = append(set.TimeEntryIDs, item.ID)
		case ledger.LineItemExpense:
			set.ExpenseIDs = append(set.ExpenseIDs, item.ID)
		}
	}
	return set
}

// Empty reports whether nothing is captured.
func (b BilledSet) Empty() bool {
	return len(b.TimeEntryIDs) == 0 && len(b.ExpenseIDs) == 0
}

// BilledMarker flips billed flags. Mark updates only rows that are still
// unbilled; Unmark only rows billed to invoiceID. Both return affected rows.
type BilledMarker interface {
	MarkTimeEntriesBilled(ctx context.Context, invoiceID int64, ids []int64) (int64, error)
	MarkExpensesBilled(ctx context.Context, invoiceID int64, ids []int64) (int64, error)
	UnmarkTimeEntries(ctx context.Context, invoiceID int64, ids []int64) (int64, error)
	UnmarkExpenses(ctx context.Context, invoiceID int64, ids []int64) (int64, error)
}

// MarkAsBilled flags exactly the rows in set as billed to invoiceID. If any
// row was billed by someone else in the meantime it fails with
// ErrConcurrencyConflict and the caller must roll back.
func MarkAsBilled(ctx context.Context, m BilledMarker, invoiceID int64, set BilledSet) error {
	if len(set.TimeEntryIDs) > 0 {
		n, err := m.MarkTimeEntriesBilled(ctx, invoiceID, set.TimeEntryIDs)
		if err != nil {
			return err
		}
		if n != int64(len(set.TimeEntryIDs)) {
			return shared.Wrap(shared.ErrConcurrencyConflict, "%d of %d time entries were already billed", int64(len(set.TimeEntryIDs))-n, len(set.TimeEntryIDs))
		}
	}
	if len(set.ExpenseIDs) > 0 {
		n, err := m.MarkExpensesBilled(ctx, invoiceID, set.ExpenseIDs)
		if err != nil {
			return err
		}
		if n != int64(len(set.ExpenseIDs)) {
			return shared.Wrap(shared.ErrConcurrencyConflict, "%d of %d expenses were already billed", int64(len(set.ExpenseIDs))-n, len(set.ExpenseIDs))
		}
	}
	return nil
}

// ReverseBilled returns the rows of set billed to invoiceID to the unbilled pool.
func ReverseBilled(ctx context.Context, m BilledMarker, invoiceID int64, set BilledSet) error {
	if len(set.TimeEntryIDs) > 0 {
		n, err := m.UnmarkTimeEntries(ctx, invoiceID, set.TimeEntryIDs)
		if err != nil {
			return err
		}
		if n != int64(len(set.TimeEntryIDs)) {
			return shared.Wrap(shared.ErrConcurrencyConflict, "time entries of invoice %d changed underneath", invoiceID)
		}
	}
	if len(set.ExpenseIDs) > 0 {
		n, err := m.UnmarkExpenses(ctx, invoiceID, set.ExpenseIDs)
		if err != nil {
			return err
		}
		if n != int64(len(set.ExpenseIDs)) {
			return shared.Wrap(shared.ErrConcurrencyConflict, "expenses of invoice %d changed underneath", invoiceID)
		}
	}
	return nil
}
