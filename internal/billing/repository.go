package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lexledger/lexledger/internal/ledger"
	"github.com/lexledger/lexledger/internal/platform/db"
	"github.com/lexledger/lexledger/internal/shared"
)

// Repository provides PostgreSQL backed persistence for billing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction. Serialization
// failures surface as ErrConcurrencyConflict.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return translatePgError(err)
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return shared.Wrap(shared.ErrConcurrencyConflict, "%s", pgErr.Message)
	case pgerrcode.UniqueViolation:
		return shared.Wrap(shared.ErrConcurrencyConflict, "duplicate %s", pgErr.ConstraintName)
	case pgerrcode.CheckViolation, pgerrcode.NotNullViolation, pgerrcode.NumericValueOutOfRange:
		return shared.Wrap(shared.ErrValidation, "%s", pgErr.Message)
	}
	return err
}

const matterSelect = `
	SELECT m.id, m.case_number, m.title, m.client_id, c.name
	FROM matters m
	JOIN clients c ON c.id = m.client_id
	WHERE m.id = $1`

func scanMatter(row pgx.Row, id int64) (Matter, error) {
	var m Matter
	if err := row.Scan(&m.ID, &m.CaseNumber, &m.Title, &m.ClientID, &m.ClientName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Matter{}, shared.Wrap(shared.ErrNotFound, "matter %d", id)
		}
		return Matter{}, err
	}
	return m, nil
}

// GetMatter loads a matter with its client name.
func (r *Repository) GetMatter(ctx context.Context, id int64) (Matter, error) {
	return scanMatter(r.pool.QueryRow(ctx, matterSelect, id), id)
}

func (t *txRepo) LockMatter(ctx context.Context, id int64) (Matter, error) {
	return scanMatter(t.tx.QueryRow(ctx, matterSelect+` FOR UPDATE OF m`, id), id)
}

const timeEntryColumns = `id, matter_id, description, duration_minutes, hourly_rate, entry_date, billed, invoice_id, created_at`

func scanTimeEntries(rows pgx.Rows) ([]TimeEntry, error) {
	defer rows.Close()
	out := make([]TimeEntry, 0)
	for rows.Next() {
		var e TimeEntry
		if err := rows.Scan(&e.ID, &e.MatterID, &e.Description, &e.DurationMinutes, &e.HourlyRate, &e.Date, &e.Billed, &e.InvoiceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

const expenseColumns = `id, matter_id, description, amount, expense_date, category, billed, invoice_id, created_at`

func scanExpenses(rows pgx.Rows) ([]Expense, error) {
	defer rows.Close()
	out := make([]Expense, 0)
	for rows.Next() {
		var e Expense
		if err := rows.Scan(&e.ID, &e.MatterID, &e.Description, &e.Amount, &e.Date, &e.Category, &e.Billed, &e.InvoiceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func entryWhere(filter EntryFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.MatterID != nil {
		args = append(args, *filter.MatterID)
		clauses = append(clauses, fmt.Sprintf("matter_id = $%d", len(args)))
	}
	if filter.UnbilledOnly {
		clauses = append(clauses, "NOT billed")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListTimeEntries returns entries ordered by date then id.
func (r *Repository) ListTimeEntries(ctx context.Context, filter EntryFilter) ([]TimeEntry, error) {
	where, args := entryWhere(filter)
	rows, err := r.pool.Query(ctx, `SELECT `+timeEntryColumns+` FROM time_entries`+where+` ORDER BY entry_date, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanTimeEntries(rows)
}

// ListExpenses returns expenses ordered by date then id.
func (r *Repository) ListExpenses(ctx context.Context, filter EntryFilter) ([]Expense, error) {
	where, args := entryWhere(filter)
	rows, err := r.pool.Query(ctx, `SELECT `+expenseColumns+` FROM expenses`+where+` ORDER BY expense_date, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanExpenses(rows)
}

func (t *txRepo) ListUnbilledTimeEntries(ctx context.Context, matterID int64) ([]TimeEntry, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE matter_id = $1 AND NOT billed ORDER BY entry_date, id FOR UPDATE`, matterID)
	if err != nil {
		return nil, err
	}
	return scanTimeEntries(rows)
}

func (t *txRepo) ListUnbilledExpenses(ctx context.Context, matterID int64) ([]Expense, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE matter_id = $1 AND NOT billed ORDER BY expense_date, id FOR UPDATE`, matterID)
	if err != nil {
		return nil, err
	}
	return scanExpenses(rows)
}

// CreateTimeEntry inserts an entry.
func (r *Repository) CreateTimeEntry(ctx context.Context, e TimeEntry) (TimeEntry, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO time_entries (matter_id, description, duration_minutes, hourly_rate, entry_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.MatterID, e.Description, e.DurationMinutes, e.HourlyRate, e.Date, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return TimeEntry{}, translatePgError(err)
	}
	return e, nil
}

// CreateExpense inserts an expense.
func (r *Repository) CreateExpense(ctx context.Context, e Expense) (Expense, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO expenses (matter_id, description, amount, expense_date, category, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		e.MatterID, e.Description, e.Amount, e.Date, e.Category, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return Expense{}, translatePgError(err)
	}
	return e, nil
}

func (t *txRepo) NextInvoiceSequence(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `INSERT INTO invoice_sequences (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = invoice_sequences.last_seq + 1
		RETURNING last_seq`, year).Scan(&seq)
	return seq, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices (number, matter_id, client_id, client_name, amount, subtotal, tax, discount,
			tax_rate_percent, due_date, status, notes, terms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		inv.Number, inv.MatterID, inv.ClientID, inv.ClientName, inv.Amount, inv.Subtotal, inv.Tax, inv.Discount,
		inv.TaxRatePercent.String(), inv.DueDate, string(inv.Status), inv.Notes, inv.Terms, inv.CreatedAt, inv.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	batch := &pgx.Batch{}
	for i, item := range inv.LineItems {
		batch.Queue(`INSERT INTO invoice_line_items (invoice_id, position, source_type, source_id, description, quantity, rate, amount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, i, string(item.Type), item.ID, item.Description, item.Quantity.String(), item.Rate, item.Amount)
	}
	if batch.Len() > 0 {
		if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
			return 0, err
		}
	}
	return id, nil
}

const invoiceColumns = `id, number, matter_id, client_id, client_name, amount, subtotal, tax, discount,
	tax_rate_percent::text, due_date, status, notes, terms, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var (
		inv     Invoice
		taxRate string
		status  string
	)
	if err := row.Scan(&inv.ID, &inv.Number, &inv.MatterID, &inv.ClientID, &inv.ClientName, &inv.Amount, &inv.Subtotal,
		&inv.Tax, &inv.Discount, &taxRate, &inv.DueDate, &status, &inv.Notes, &inv.Terms, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
		return Invoice{}, err
	}
	if err := inv.TaxRatePercent.Scan(taxRate); err != nil {
		return Invoice{}, err
	}
	parsed, err := ParseStatus(status)
	if err != nil {
		return Invoice{}, fmt.Errorf("invoice %d has non-canonical status %q, run ledgerctl normalize-statuses: %w", inv.ID, status, err)
	}
	inv.Status = parsed
	return inv, nil
}

func loadInvoice(ctx context.Context, q querier, id int64, forUpdate bool) (Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, shared.Wrap(shared.ErrNotFound, "invoice %d", id)
		}
		return Invoice{}, err
	}
	if inv.LineItems, err = loadLineItems(ctx, q, id); err != nil {
		return Invoice{}, err
	}
	payments, err := loadPayments(ctx, q, []int64{id})
	if err != nil {
		return Invoice{}, err
	}
	inv.Payments = payments[id]
	if inv.Payments == nil {
		inv.Payments = []ledger.Payment{}
	}
	return inv, nil
}

func loadLineItems(ctx context.Context, q querier, invoiceID int64) ([]ledger.LineItem, error) {
	rows, err := q.Query(ctx, `SELECT source_id, description, quantity::text, rate, amount, source_type
		FROM invoice_line_items WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]ledger.LineItem, 0)
	for rows.Next() {
		var (
			item    ledger.LineItem
			qty     string
			srcType string
		)
		if err := rows.Scan(&item.ID, &item.Description, &qty, &item.Rate, &item.Amount, &srcType); err != nil {
			return nil, err
		}
		if err := item.Quantity.Decimal.Scan(qty); err != nil {
			return nil, err
		}
		item.Type = ledger.LineItemType(srcType)
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadPayments(ctx context.Context, q querier, invoiceIDs []int64) (map[int64][]ledger.Payment, error) {
	out := make(map[int64][]ledger.Payment, len(invoiceIDs))
	if len(invoiceIDs) == 0 {
		return out, nil
	}
	rows, err := q.Query(ctx, `SELECT invoice_id, id, paid_on, amount, method, reference, created_at
		FROM invoice_payments WHERE invoice_id = ANY($1) ORDER BY invoice_id, id`, invoiceIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			invoiceID int64
			p         ledger.Payment
			method    string
		)
		if err := rows.Scan(&invoiceID, &p.ID, &p.Date, &p.Amount, &method, &p.Reference, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Method = ledger.PaymentMethod(method)
		out[invoiceID] = append(out[invoiceID], p)
	}
	return out, rows.Err()
}

// GetInvoice loads an invoice with lines and payments.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return loadInvoice(ctx, r.pool, id, false)
}

func (t *txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return loadInvoice(ctx, t.tx, id, true)
}

// ListInvoices returns newest invoices first with payments attached.
func (r *Repository) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, int, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.MatterID > 0 {
		args = append(args, filter.MatterID)
		clauses = append(clauses, fmt.Sprintf("matter_id = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices` + where + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	invoices := make([]Invoice, 0)
	ids := make([]int64, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		invoices = append(invoices, inv)
		ids = append(ids, inv.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	payments, err := loadPayments(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range invoices {
		invoices[i].Payments = payments[invoices[i].ID]
		if invoices[i].Payments == nil {
			invoices[i].Payments = []ledger.Payment{}
		}
	}
	return invoices, total, nil
}

func (t *txRepo) UpdateInvoiceStatus(ctx context.Context, id int64, status Status, updatedAt time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $2, updated_at = $3 WHERE id = $1`, id, string(status), updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Wrap(shared.ErrNotFound, "invoice %d", id)
	}
	return nil
}

func (t *txRepo) InsertPayment(ctx context.Context, invoiceID int64, p ledger.Payment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO invoice_payments (invoice_id, paid_on, amount, method, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		invoiceID, p.Date, p.Amount, string(p.Method), p.Reference, p.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) DeleteInvoice(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Wrap(shared.ErrNotFound, "invoice %d", id)
	}
	return nil
}

func (t *txRepo) MarkTimeEntriesBilled(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE time_entries SET billed = TRUE, invoice_id = $1 WHERE id = ANY($2) AND NOT billed`, invoiceID, ids)
	return tag.RowsAffected(), err
}

func (t *txRepo) MarkExpensesBilled(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE expenses SET billed = TRUE, invoice_id = $1 WHERE id = ANY($2) AND NOT billed`, invoiceID, ids)
	return tag.RowsAffected(), err
}

func (t *txRepo) UnmarkTimeEntries(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE time_entries SET billed = FALSE, invoice_id = NULL WHERE id = ANY($2) AND invoice_id = $1`, invoiceID, ids)
	return tag.RowsAffected(), err
}

func (t *txRepo) UnmarkExpenses(ctx context.Context, invoiceID int64, ids []int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `UPDATE expenses SET billed = FALSE, invoice_id = NULL WHERE id = ANY($2) AND invoice_id = $1`, invoiceID, ids)
	return tag.RowsAffected(), err
}

func (t *txRepo) ListRawStatuses(ctx context.Context) ([]RawStatus, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, status FROM invoices ORDER BY id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]RawStatus, 0)
	for rows.Next() {
		var rs RawStatus
		if err := rows.Scan(&rs.InvoiceID, &rs.Status); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (t *txRepo) SetRawStatus(ctx context.Context, invoiceID int64, status Status) error {
	_, err := t.tx.Exec(ctx, `UPDATE invoices SET status = $2 WHERE id = $1`, invoiceID, string(status))
	return err
}
