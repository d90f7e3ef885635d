package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lexledger/lexledger/internal/billing"
	jobmetrics "github.com/lexledger/lexledger/internal/jobs"
	"github.com/lexledger/lexledger/internal/ledger"
)

// OverdueSource lists invoices that are past due.
type OverdueSource interface {
	OverdueInvoices(ctx context.Context) ([]billing.Invoice, error)
	Now() time.Time
}

// OverdueGauge receives the scan result.
type OverdueGauge interface {
	SetOverdue(count int, balance float64)
}

// OverdueScanJob refreshes the overdue gauges from the billing service.
type OverdueScanJob struct {
	Source  OverdueSource
	Gauge   OverdueGauge
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// OverdueScanResult summarises one scan.
type OverdueScanResult struct {
	Count   int
	Balance ledger.Money
}

// Handle executes the overdue scan for TaskOverdueScan tasks.
func (j *OverdueScanJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run scans once and publishes the gauges.
func (j *OverdueScanJob) Run(ctx context.Context) (result OverdueScanResult, err error) {
	if j == nil || j.Source == nil {
		return OverdueScanResult{}, errors.New("overdue scan: handler not configured")
	}
	tracker := j.Metrics.Track(TaskOverdueScan)
	defer func() { err = tracker.End(err) }()

	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	invoices, err := j.Source.OverdueInvoices(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "overdue scan failed", slog.Any("error", err))
		return OverdueScanResult{}, err
	}
	now := j.Source.Now()
	result.Balance = ledger.Zero()
	for _, inv := range invoices {
		result.Count++
		result.Balance = result.Balance.Add(inv.RemainingBalance())
		logger.DebugContext(ctx, "invoice overdue",
			slog.Int64("invoice_id", inv.ID),
			slog.String("number", inv.Number),
			slog.Int("days_overdue", inv.DaysOverdue(now)),
		)
	}
	if j.Gauge != nil {
		j.Gauge.SetOverdue(result.Count, result.Balance.Float64())
	}
	j.Metrics.AddProcessed(TaskOverdueScan, result.Count)
	logger.InfoContext(ctx, "overdue scan complete",
		slog.Int("overdue", result.Count),
		slog.String("balance", result.Balance.String()),
	)
	return result, nil
}
