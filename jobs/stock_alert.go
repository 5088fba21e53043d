package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/retailops/stockledger/internal/inventory"
	jobmetrics "github.com/retailops/stockledger/internal/jobs"
)

// InventoryReader is the read side of the inventory service used by jobs.
type InventoryReader interface {
	ProductIDs(ctx context.Context) ([]int64, error)
	Inventory(ctx context.Context, productID int64) (inventory.ProductInventory, error)
	CurrentValuation(ctx context.Context, productID int64) (inventory.Valuation, error)
	ExpiringBatches(ctx context.Context, productID int64, withinDays int) ([]inventory.Batch, error)
	ExpiredBatches(ctx context.Context, productID int64) ([]inventory.Batch, error)
	Reconcile(ctx context.Context, productID int64) (inventory.ReconciliationReport, error)
}

// StockAlertJob handles threshold alerts raised by stock mutations.
type StockAlertJob struct {
	Inventory InventoryReader
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewStockAlertJob initialises the alert handler.
func NewStockAlertJob(reader InventoryReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockAlertJob {
	return &StockAlertJob{Inventory: reader, Logger: logger, Metrics: metrics}
}

// Handle re-reads the product and reports the alert unless a later
// mutation already resolved it.
func (j *StockAlertJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("stock alert: handler not configured")
	}
	var payload StockAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ProductID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskStockAlert)

	record, err := j.Inventory.Inventory(ctx, payload.ProductID)
	if err != nil {
		return tracker.End(err)
	}
	logger := loggerOrDefault(j.Logger).With(
		slog.Int64("product_id", payload.ProductID),
		slog.Int64("on_hand", record.OnHand),
		slog.Int64("reorder_level", record.ReorderLevel),
	)
	status := inventory.StatusFor(record)
	if status == inventory.StatusNormal {
		logger.Info("stock alert resolved before delivery", slog.String("raised_status", payload.Status))
		return tracker.End(nil)
	}
	logger.Warn("stock alert",
		slog.String("status", string(status)),
		slog.Time("occurred_at", payload.OccurredAt),
	)
	j.Metrics.AddAlert(string(status))
	return tracker.End(nil)
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
