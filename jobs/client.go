package jobs

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"github.com/lexledger/lexledger/internal/billing"
)

// Client enqueues billing tasks. It is the billing Notifier.
type Client struct {
	client *asynq.Client
}

var _ billing.Notifier = (*Client)(nil)

// NewClient connects an enqueue client to Redis. Connection errors surface
// on the first enqueue.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// InvoiceSent enqueues the invoice-sent notification. A task already queued
// for the same invoice is not an error.
func (c *Client) InvoiceSent(ctx context.Context, event billing.InvoiceSentEvent) error {
	task, err := NewInvoiceSentTask(event)
	if err != nil {
		return err
	}
	if _, err = c.client.EnqueueContext(ctx, task); errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueOverdueScan enqueues an immediate overdue scan tagged with trigger.
func (c *Client) EnqueueOverdueScan(ctx context.Context, trigger string) (*asynq.TaskInfo, error) {
	task, err := NewOverdueScanTask(trigger)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
