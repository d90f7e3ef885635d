package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/shared"
)

type memoryBillingRepo struct {
	mu        sync.Mutex
	matters   map[int64]Matter
	entries   map[int64]TimeEntry
	expenses  map[int64]Expense
	invoices  map[int64]Invoice
	legacy    map[int64]string
	sequences map[int]int
	nextID    int64
}

// memoryBillingTx records undo steps so a failed callback leaves the
// repository as it found it.
type memoryBillingTx struct {
	repo *memoryBillingRepo
	undo []func()
}

func newMemoryBillingRepo() *memoryBillingRepo {
	return &memoryBillingRepo{
		matters:   make(map[int64]Matter),
		entries:   make(map[int64]TimeEntry),
		expenses:  make(map[int64]Expense),
		invoices:  make(map[int64]Invoice),
		legacy:    make(map[int64]string),
		sequences: make(map[int]int),
		nextID:    1000,
	}
}

func copyInvoice(inv Invoice) Invoice {
	inv.LineItems = append([]ledger.LineItem(nil), inv.LineItems...)
	inv.Payments = append([]ledger.Payment{}, inv.Payments...)
	return inv
}

func (r *memoryBillingRepo) addMatter(m Matter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matters[m.ID] = m
}

func (r *memoryBillingRepo) addEntry(e TimeEntry) TimeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == 0 {
		r.nextID++
		e.ID = r.nextID
	}
	r.entries[e.ID] = e
	return e
}

func (r *memoryBillingRepo) addExpense(e Expense) Expense {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == 0 {
		r.nextID++
		e.ID = r.nextID
	}
	r.expenses[e.ID] = e
	return e
}

func (r *memoryBillingRepo) entry(id int64) TimeEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

func (r *memoryBillingRepo) expense(id int64) Expense {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expenses[id]
}

func (r *memoryBillingRepo) invoiceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invoices)
}

func (r *memoryBillingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryBillingTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		r.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *memoryBillingRepo) GetMatter(ctx context.Context, id int64) (Matter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.matters[id]
	if !ok {
		return Matter{}, shared.Wrap(shared.ErrNotFound, "matter %d", id)
	}
	return m, nil
}

func matchEntry(filter EntryFilter, matterID *int64, billed bool) bool {
	if filter.UnbilledOnly && billed {
		return false
	}
	if filter.MatterID != nil && !belongsTo(matterID, *filter.MatterID) {
		return false
	}
	return true
}

func (r *memoryBillingRepo) ListTimeEntries(ctx context.Context, filter EntryFilter) ([]TimeEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TimeEntry, 0)
	for _, e := range r.entries {
		if matchEntry(filter, e.MatterID, e.Billed) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryBillingRepo) ListExpenses(ctx context.Context, filter EntryFilter) ([]Expense, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Expense, 0)
	for _, e := range r.expenses {
		if matchEntry(filter, e.MatterID, e.Billed) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryBillingRepo) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return Invoice{}, shared.Wrap(shared.ErrNotFound, "invoice %d", id)
	}
	return copyInvoice(inv), nil
}

func (r *memoryBillingRepo) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Invoice, 0)
	for _, inv := range r.invoices {
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		if filter.MatterID > 0 && inv.MatterID != filter.MatterID {
			continue
		}
		inv = copyInvoice(inv)
		inv.LineItems = nil
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	total := len(out)
	if filter.Limit > 0 {
		start := min(filter.Offset, len(out))
		end := min(start+filter.Limit, len(out))
		out = out[start:end]
	}
	return out, total, nil
}

func (r *memoryBillingRepo) CreateTimeEntry(ctx context.Context, e TimeEntry) (TimeEntry, error) {
	e.ID = 0
	return r.addEntry(e), nil
}

func (r *memoryBillingRepo) CreateExpense(ctx context.Context, e Expense) (Expense, error) {
	e.ID = 0
	return r.addExpense(e), nil
}

func (tx *memoryBillingTx) LockMatter(ctx context.Context, id int64) (Matter, error) {
	return tx.repo.GetMatter(ctx, id)
}

func (tx *memoryBillingTx) ListUnbilledTimeEntries(ctx context.Context, matterID int64) ([]TimeEntry, error) {
	return tx.repo.ListTimeEntries(ctx, EntryFilter{MatterID: &matterID, UnbilledOnly: true})
}

func (tx *memoryBillingTx) ListUnbilledExpenses(ctx context.Context, matterID int64) ([]Expense, error) {
	return tx.repo.ListExpenses(ctx, EntryFilter{MatterID: &matterID, UnbilledOnly: true})
}

func (tx *memoryBillingTx) NextInvoiceSequence(ctx context.Context, year int) (int, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequences[year]++
	return r.sequences[year], nil
}

func (tx *memoryBillingTx) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	inv.ID = r.nextID
	r.invoices[inv.ID] = copyInvoice(inv)
	id := inv.ID
	tx.undo = append(tx.undo, func() { delete(r.invoices, id) })
	return id, nil
}

func (tx *memoryBillingTx) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return tx.repo.GetInvoice(ctx, id)
}

func (tx *memoryBillingTx) UpdateInvoiceStatus(ctx context.Context, id int64, status Status, updatedAt time.Time) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return shared.Wrap(shared.ErrNotFound, "invoice %d", id)
	}
	prev := inv
	inv.Status = status
	inv.UpdatedAt = updatedAt
	r.invoices[id] = inv
	tx.undo = append(tx.undo, func() { r.invoices[id] = prev })
	return nil
}

func (tx *memoryBillingTx) InsertPayment(ctx context.Context, invoiceID int64, p ledger.Payment) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[invoiceID]
	if !ok {
		return 0, shared.Wrap(shared.ErrNotFound, "invoice %d", invoiceID)
	}
	prev := copyInvoice(inv)
	r.nextID++
	p.ID = r.nextID
	inv.Payments = append(append([]ledger.Payment{}, inv.Payments...), p)
	r.invoices[invoiceID] = inv
	tx.undo = append(tx.undo, func() { r.invoices[invoiceID] = prev })
	return p.ID, nil
}

func (tx *memoryBillingTx) DeleteInvoice(ctx context.Context, id int64) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return shared.Wrap(shared.ErrNotFound, "invoice %d", id)
	}
	delete(r.invoices, id)
	tx.undo = append(tx.undo, func() { r.invoices[id] = inv })
	return nil
}

func (tx *memoryBillingTx) MarkTimeEntriesBilled(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		e, ok := r.entries[id]
		if !ok || e.Billed {
			continue
		}
		prev := e
		e.Billed = true
		e.InvoiceID = &invoiceID
		r.entries[id] = e
		tx.undo = append(tx.undo, func() { r.entries[prev.ID] = prev })
		n++
	}
	return n, nil
}

func (tx *memoryBillingTx) MarkExpensesBilled(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		e, ok := r.expenses[id]
		if !ok || e.Billed {
			continue
		}
		prev := e
		e.Billed = true
		e.InvoiceID = &invoiceID
		r.expenses[id] = e
		tx.undo = append(tx.undo, func() { r.expenses[prev.ID] = prev })
		n++
	}
	return n, nil
}

func (tx *memoryBillingTx) UnmarkTimeEntries(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		e, ok := r.entries[id]
		if !ok || e.InvoiceID == nil || *e.InvoiceID != invoiceID {
			continue
		}
		prev := e
		e.Billed = false
		e.InvoiceID = nil
		r.entries[id] = e
		tx.undo = append(tx.undo, func() { r.entries[prev.ID] = prev })
		n++
	}
	return n, nil
}

func (tx *memoryBillingTx) UnmarkExpenses(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		e, ok := r.expenses[id]
		if !ok || e.InvoiceID == nil || *e.InvoiceID != invoiceID {
			continue
		}
		prev := e
		e.Billed = false
		e.InvoiceID = nil
		r.expenses[id] = e
		tx.undo = append(tx.undo, func() { r.expenses[prev.ID] = prev })
		n++
	}
	return n, nil
}

func (tx *memoryBillingTx) ListRawStatuses(ctx context.Context) ([]RawStatus, error) {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RawStatus, 0, len(r.invoices))
	for id, inv := range r.invoices {
		raw := string(inv.Status)
		if legacy, ok := r.legacy[id]; ok {
			raw = legacy
		}
		out = append(out, RawStatus{InvoiceID: id, Status: raw})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceID < out[j].InvoiceID })
	return out, nil
}

func (tx *memoryBillingTx) SetRawStatus(ctx context.Context, invoiceID int64, status Status) error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := r.invoices[invoiceID]
	prevInv := inv
	prevLegacy, hadLegacy := r.legacy[invoiceID]
	inv.Status = status
	r.invoices[invoiceID] = inv
	delete(r.legacy, invoiceID)
	tx.undo = append(tx.undo, func() {
		r.invoices[invoiceID] = prevInv
		if hadLegacy {
			r.legacy[invoiceID] = prevLegacy
		}
	})
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []InvoiceSentEvent
}

func (n *recordingNotifier) InvoiceSent(ctx context.Context, event InvoiceSentEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]string)
	}
	k := module + "|" + key
	if stored, ok := m.keys[k]; ok {
		if stored != fingerprint {
			return shared.ErrIdempotencyMismatch
		}
		return shared.ErrIdempotencyConflict
	}
	m.keys[k] = fingerprint
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, module+"|"+key)
	return nil
}
