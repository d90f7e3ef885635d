package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/lexledger/lexledger/internal/billing"
	jobmetrics "github.com/lexledger/lexledger/internal/jobs"
	"github.com/lexledger/lexledger/internal/ledger"
)

var scanNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

type stubOverdueSource struct {
	invoices []billing.Invoice
	err      error
}

func (s stubOverdueSource) OverdueInvoices(ctx context.Context) ([]billing.Invoice, error) {
	return s.invoices, s.err
}

func (s stubOverdueSource) Now() time.Time { return scanNow }

type recordingGauge struct {
	count   int
	balance float64
	calls   int
}

func (g *recordingGauge) SetOverdue(count int, balance float64) {
	g.count, g.balance = count, balance
	g.calls++
}

func overdueInvoice(id int64, amount, paid string) billing.Invoice {
	inv := billing.Invoice{
		ID:      id,
		Amount:  ledger.MustParseMoney(amount),
		Status:  billing.StatusSent,
		DueDate: scanNow.AddDate(0, 0, -10),
	}
	if paid != "" {
		inv.Status = billing.StatusPartiallyPaid
		inv.Payments = []ledger.Payment{{Amount: ledger.MustParseMoney(paid)}}
	}
	return inv
}

func TestOverdueScanPublishesGauge(t *testing.T) {
	gauge := &recordingGauge{}
	job := &OverdueScanJob{
		Source: stubOverdueSource{invoices: []billing.Invoice{
			overdueInvoice(1, "500.00", "200.00"),
			overdueInvoice(2, "250.50", ""),
		}},
		Gauge:   gauge,
		Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}

	result, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Count)
	require.Equal(t, "550.50", result.Balance.String())
	require.Equal(t, 2, gauge.count)
	require.Equal(t, 550.5, gauge.balance)
}

func TestOverdueScanFailureLeavesGauge(t *testing.T) {
	gauge := &recordingGauge{}
	job := &OverdueScanJob{Source: stubOverdueSource{err: errors.New("db down")}, Gauge: gauge}
	require.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskOverdueScan, nil)))
	require.Zero(t, gauge.calls)

	var unconfigured *OverdueScanJob
	_, err := unconfigured.Run(context.Background())
	require.Error(t, err)
}

func TestInvoiceSentJobRejectsMalformedPayload(t *testing.T) {
	job := &InvoiceSentJob{}
	err := job.Handle(context.Background(), asynq.NewTask(TaskInvoiceSent, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskInvoiceSent, []byte(`{"event":{}}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	task, err := NewInvoiceSentTask(billing.InvoiceSentEvent{InvoiceID: 9, Number: "INV-2024-0009"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestClientEnqueuesInvoiceSentOncePerInvoice(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(asynq.RedisClientOpt{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	event := billing.InvoiceSentEvent{InvoiceID: 7, Number: "INV-2024-0007", ClientName: "Acme LLP", Amount: "1000.00"}
	require.NoError(t, client.InvoiceSent(context.Background(), event))
	require.NoError(t, client.InvoiceSent(context.Background(), event))

	pending, err := mr.List("asynq:{default}:pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, "invoice-sent:7", pending[0])
}

func TestBillingRegistrations(t *testing.T) {
	handlers, cron, err := BillingRegistrations(&InvoiceSentJob{}, &OverdueScanJob{}, &IdempotencyCleanupJob{})
	require.NoError(t, err)
	require.Len(t, handlers, 3)
	require.Equal(t, TaskInvoiceSent, handlers[0].Type)
	require.Equal(t, TaskIdempotencyCleanup, handlers[2].Type)
	require.Len(t, cron, 2)
	require.Equal(t, OverdueScanSchedule, cron[0].Spec)
	require.Equal(t, TaskOverdueScan, cron[0].Task.Type())
	require.Equal(t, IdempotencyCleanupSchedule, cron[1].Spec)
	require.Equal(t, TaskIdempotencyCleanup, cron[1].Task.Type())

	var payload OverdueScanPayload
	require.NoError(t, json.Unmarshal(cron[0].Task.Payload(), &payload))
	require.Equal(t, "cron", payload.Trigger)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","paused":false,"pending":0,"active":0,"scheduled":0,"retry":0,"archived":0}`, rec.Body.String())
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestHealthReportsQueueInfo(t *testing.T) {
	cases := map[string]struct {
		inspector stubInspector
		status    int
		pending   int
	}{
		"counts":     {inspector: stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 4, Retry: 1}}, status: http.StatusOK, pending: 4},
		"no queue":   {inspector: stubInspector{err: asynq.ErrQueueNotFound}, status: http.StatusOK},
		"redis down": {inspector: stubInspector{err: errors.New("dial tcp: refused")}, status: http.StatusServiceUnavailable},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body queueHealth
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tc.pending, body.Pending)
		})
	}
}

type recordingPurger struct {
	olderThan time.Duration
	err       error
}

func (p *recordingPurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	p.olderThan = olderThan
	if p.err != nil {
		return 0, p.err
	}
	return 3, nil
}

func TestIdempotencyCleanup(t *testing.T) {
	purger := &recordingPurger{}
	reg := prometheus.NewRegistry()
	job := &IdempotencyCleanupJob{Store: purger, Retention: 7 * 24 * time.Hour, Metrics: jobmetrics.NewMetrics(reg)}
	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 7*24*time.Hour, purger.olderThan)

	purger.err = errors.New("db down")
	require.Error(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))

	require.Error(t, (&IdempotencyCleanupJob{Store: purger}).Handle(context.Background(), nil))
	var unconfigured *IdempotencyCleanupJob
	require.Error(t, unconfigured.Handle(context.Background(), nil))
}
