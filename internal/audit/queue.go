package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueName is the dedicated queue for audit entries.
	QueueName = "audit"
	// TaskTypeRecord is the task type carrying one audit entry.
	TaskTypeRecord = "audit:record"
)

// NewRecordTask wraps an entry in an Asynq task.
func NewRecordTask(entry Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRecord, data), nil
}

// QueueWriter hands entries to a durable Redis-backed queue. The worker
// process persists each task in its own transaction, independent of whatever
// request produced the entry. Implements Writer.
type QueueWriter struct {
	client *asynq.Client
}

// NewQueueWriter constructs a QueueWriter.
func NewQueueWriter(client *asynq.Client) *QueueWriter {
	return &QueueWriter{client: client}
}

// Write enqueues the entry.
func (q *QueueWriter) Write(ctx context.Context, entry Entry) error {
	task, err := NewRecordTask(entry)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task, asynq.Queue(QueueName))
	return err
}

// NewRecordHandler returns the worker-side handler persisting queued entries.
// A malformed payload is skipped rather than retried.
func NewRecordHandler(store Store, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var entry Entry
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			if logger != nil {
				logger.Error("audit task payload malformed", slog.Any("error", err))
			}
			return asynq.SkipRetry
		}
		return store.Insert(ctx, entry)
	}
}
