package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lexledger/lexledger/internal/billing"
)

// BillingMetrics records business counters for invoices and payments.
type BillingMetrics struct {
	invoicesCreated  prometheus.Counter
	invoicedAmount   prometheus.Counter
	transitions      *prometheus.CounterVec
	payments         *prometheus.CounterVec
	paymentAmount    *prometheus.CounterVec
	invoicesDeleted  prometheus.Counter
	idempotentReplay prometheus.Counter
	overdueInvoices  prometheus.Gauge
	overdueBalance   prometheus.Gauge
}

var (
	defaultBillingOnce    sync.Once
	defaultBillingMetrics *BillingMetrics
)

var _ billing.Metrics = (*BillingMetrics)(nil)

// NewBillingMetrics registers the billing collectors. A nil registerer uses
// the default Prometheus registerer, registered once per process.
func NewBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	if registerer == nil {
		defaultBillingOnce.Do(func() {
			defaultBillingMetrics = buildBillingMetrics(prometheus.DefaultRegisterer)
		})
		return defaultBillingMetrics
	}
	return buildBillingMetrics(registerer)
}

func buildBillingMetrics(registerer prometheus.Registerer) *BillingMetrics {
	m := &BillingMetrics{
		invoicesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lexledger_invoices_created_total",
			Help: "Invoices generated from unbilled work.",
		}),
		invoicedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lexledger_invoiced_amount_total",
			Help: "Sum of invoice totals at creation, in the billing currency.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexledger_invoice_transitions_total",
			Help: "Invoice status changes by target status.",
		}, []string{"status"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexledger_payments_recorded_total",
			Help: "Payments recorded by method.",
		}, []string{"method"}),
		paymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lexledger_payments_amount_total",
			Help: "Sum of payment amounts by method.",
		}, []string{"method"}),
		invoicesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lexledger_invoices_deleted_total",
			Help: "Invoices deleted with their work returned to the unbilled pool.",
		}),
		idempotentReplay: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lexledger_payment_idempotent_replays_total",
			Help: "Payment requests rejected as replays of an Idempotency-Key.",
		}),
		overdueInvoices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lexledger_overdue_invoices",
			Help: "Collectable invoices past due at the last overdue scan.",
		}),
		overdueBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lexledger_overdue_balance",
			Help: "Remaining balance of overdue invoices at the last overdue scan.",
		}),
	}
	registerer.MustRegister(
		m.invoicesCreated,
		m.invoicedAmount,
		m.transitions,
		m.payments,
		m.paymentAmount,
		m.invoicesDeleted,
		m.idempotentReplay,
		m.overdueInvoices,
		m.overdueBalance,
	)
	return m
}

func (m *BillingMetrics) InvoiceCreated(amount float64) {
	if m == nil {
		return
	}
	m.invoicesCreated.Inc()
	m.invoicedAmount.Add(amount)
}

func (m *BillingMetrics) InvoiceTransitioned(to billing.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(to)).Inc()
}

func (m *BillingMetrics) PaymentRecorded(method string, amount float64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(method).Inc()
	m.paymentAmount.WithLabelValues(method).Add(amount)
}

func (m *BillingMetrics) InvoiceDeleted() {
	if m == nil {
		return
	}
	m.invoicesDeleted.Inc()
}

func (m *BillingMetrics) IdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReplay.Inc()
}

// SetOverdue publishes the result of an overdue scan.
func (m *BillingMetrics) SetOverdue(count int, balance float64) {
	if m == nil {
		return
	}
	m.overdueInvoices.Set(float64(count))
	m.overdueBalance.Set(balance)
}
