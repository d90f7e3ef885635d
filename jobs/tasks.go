package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/lexledger/lexledger/internal/billing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskInvoiceSent hands a sent invoice to the communications side.
	TaskInvoiceSent = "billing:invoice_sent"
	// TaskOverdueScan refreshes the overdue gauges.
	TaskOverdueScan = "billing:overdue_scan"
	// TaskIdempotencyCleanup expires old payment Idempotency-Key records.
	TaskIdempotencyCleanup = "billing:idempotency_cleanup"

	// OverdueScanSchedule runs the overdue scan at the top of every hour.
	OverdueScanSchedule = "0 * * * *"
	// IdempotencyCleanupSchedule runs daily at 03:30.
	IdempotencyCleanupSchedule = "30 3 * * *"
)

// InvoiceSentPayload is the wire form of TaskInvoiceSent.
type InvoiceSentPayload struct {
	RequestID string                   `json:"request_id"`
	Event     billing.InvoiceSentEvent `json:"event"`
}

// NewInvoiceSentTask constructs an Asynq task for a sent invoice. The task
// id is derived from the invoice so one invoice is announced at most once
// while the task is retained.
func NewInvoiceSentTask(event billing.InvoiceSentEvent) (*asynq.Task, error) {
	data, err := json.Marshal(InvoiceSentPayload{RequestID: uuid.NewString(), Event: event})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskInvoiceSent, data,
		asynq.TaskID(fmt.Sprintf("invoice-sent:%d", event.InvoiceID)),
		asynq.MaxRetry(10),
		asynq.Queue(QueueDefault),
	), nil
}

// OverdueScanPayload records what started a scan ("cron", "cli").
type OverdueScanPayload struct {
	Trigger string `json:"trigger,omitempty"`
}

// NewOverdueScanTask constructs the overdue scan task.
func NewOverdueScanTask(trigger string) (*asynq.Task, error) {
	data, err := json.Marshal(OverdueScanPayload{Trigger: trigger})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, data, asynq.MaxRetry(2), asynq.Queue(QueueDefault)), nil
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.MaxRetry(3), asynq.Queue(QueueDefault))
}
