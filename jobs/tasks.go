package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeOrderDocument retries purchase order document generation
	// after a failed inline render.
	TaskTypeOrderDocument = "order:document"
)

// OrderDocumentPayload identifies the order whose document needs rendering.
type OrderDocumentPayload struct {
	OrderID int64 `json:"order_id"`
}

// NewOrderDocumentTask constructs an Asynq task.
func NewOrderDocumentTask(payload OrderDocumentPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOrderDocument, data, asynq.MaxRetry(5)), nil
}

// DocumentRegenerator retries document generation for a committed order.
// Satisfied by the procurement service.
type DocumentRegenerator interface {
	RegenerateDocument(ctx context.Context, orderID int64) error
}

// NewOrderDocumentHandler builds the handler for TaskTypeOrderDocument.
func NewOrderDocumentHandler(regen DocumentRegenerator) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload OrderDocumentPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return regen.RegenerateDocument(ctx, payload.OrderID)
	}
}
