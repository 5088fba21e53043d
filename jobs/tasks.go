package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAlerts carries stock alerts so they are not starved by batch jobs.
	QueueAlerts = "alerts"

	// TaskStockAlert is enqueued when a mutation moves a product into
	// LOW_STOCK or OUT_OF_STOCK.
	TaskStockAlert = "inventory:stock_alert"
	// TaskInventoryRevaluation refreshes stock valuation gauges.
	TaskInventoryRevaluation = "inventory:revaluation"
	// TaskExpiryScan reports batches nearing or past expiry.
	TaskExpiryScan = "inventory:expiry_scan"
	// TaskLedgerReconcile replays the movement ledger against batch state.
	TaskLedgerReconcile = "inventory:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// StockAlertPayload describes the threshold crossing that raised an alert.
type StockAlertPayload struct {
	ProductID    int64     `json:"product_id"`
	Status       string    `json:"status"`
	OnHand       int64     `json:"on_hand"`
	ReorderLevel int64     `json:"reorder_level"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// NewStockAlertTask constructs a stock alert task.
func NewStockAlertTask(payload StockAlertPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockAlert, body, asynq.Queue(QueueAlerts), asynq.MaxRetry(5)), nil
}

// ScanPayload scopes a catalogue-wide job. Zero ProductID means every product.
type ScanPayload struct {
	ProductID  int64 `json:"product_id,omitempty"`
	WithinDays int   `json:"within_days,omitempty"`
}

// NewInventoryRevaluationTask constructs a revaluation task.
func NewInventoryRevaluationTask(productID int64) (*asynq.Task, error) {
	return newScanTask(TaskInventoryRevaluation, ScanPayload{ProductID: productID})
}

// NewExpiryScanTask constructs an expiry scan task. Non-positive withinDays
// uses the configured window.
func NewExpiryScanTask(withinDays int) (*asynq.Task, error) {
	return newScanTask(TaskExpiryScan, ScanPayload{WithinDays: withinDays})
}

// NewLedgerReconcileTask constructs a reconciliation task.
func NewLedgerReconcileTask(productID int64) (*asynq.Task, error) {
	return newScanTask(TaskLedgerReconcile, ScanPayload{ProductID: productID})
}

// CleanupPayload sets how old a key must be before it is purged.
type CleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

func newScanTask(kind string, payload ScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, body, asynq.Queue(QueueDefault)), nil
}

func decodeScan(t *asynq.Task) (ScanPayload, error) {
	var payload ScanPayload
	if len(t.Payload()) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return payload, asynq.SkipRetry
	}
	return payload, nil
}
