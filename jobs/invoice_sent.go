package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/lexledger/lexledger/internal/jobs"
)

// InvoiceSentJob consumes TaskInvoiceSent. Delivery to the client is owned
// by the communications service; this worker records the hand-off.
type InvoiceSentJob struct {
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskInvoiceSent tasks.
func (j *InvoiceSentJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	tracker := j.Metrics.Track(TaskInvoiceSent)
	defer func() { err = tracker.End(err) }()

	var payload InvoiceSentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Event.InvoiceID <= 0 {
		return asynq.SkipRetry
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "invoice sent notification",
		slog.String("request_id", payload.RequestID),
		slog.Int64("invoice_id", payload.Event.InvoiceID),
		slog.String("number", payload.Event.Number),
		slog.String("client", payload.Event.ClientName),
		slog.String("amount", payload.Event.Amount),
		slog.Time("due_date", payload.Event.DueDate),
	)
	j.Metrics.AddProcessed(TaskInvoiceSent, 1)
	return nil
}
