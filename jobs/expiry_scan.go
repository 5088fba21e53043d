package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/retailops/stockledger/internal/jobs"
)

// ExpiryGauges receives per-product expiry counts.
type ExpiryGauges interface {
	SetExpiring(productID int64, expiring, expired int)
}

// ExpiryScanJob reports batches close to or past their expiry date.
type ExpiryScanJob struct {
	Inventory  InventoryReader
	Gauges     ExpiryGauges
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	WithinDays int
}

// NewExpiryScanJob initialises the expiry scan handler.
func NewExpiryScanJob(reader InventoryReader, gauges ExpiryGauges, withinDays int, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpiryScanJob {
	return &ExpiryScanJob{Inventory: reader, Gauges: gauges, WithinDays: withinDays, Logger: logger, Metrics: metrics}
}

// ExpirySummary counts batches found by a scan.
type ExpirySummary struct {
	Products int
	Expiring int
	Expired  int
}

// Handle executes the scan.
func (j *ExpiryScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("expiry scan: handler not configured")
	}
	payload, err := decodeScan(t)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskExpiryScan)
	summary, err := j.Run(ctx, payload.WithinDays)
	if err != nil {
		loggerOrDefault(j.Logger).Error("expiry scan failed", slog.Any("error", err))
		return tracker.End(err)
	}
	loggerOrDefault(j.Logger).Info("expiry scan complete",
		slog.Int("products", summary.Products),
		slog.Int("expiring", summary.Expiring),
		slog.Int("expired", summary.Expired))
	return tracker.End(nil)
}

// Run scans every product. Non-positive withinDays falls back to the job's
// window.
func (j *ExpiryScanJob) Run(ctx context.Context, withinDays int) (ExpirySummary, error) {
	if withinDays <= 0 {
		withinDays = j.WithinDays
	}
	ids, err := j.Inventory.ProductIDs(ctx)
	if err != nil {
		return ExpirySummary{}, err
	}
	logger := loggerOrDefault(j.Logger)
	var summary ExpirySummary
	for _, id := range ids {
		expiring, err := j.Inventory.ExpiringBatches(ctx, id, withinDays)
		if err != nil {
			return summary, err
		}
		expired, err := j.Inventory.ExpiredBatches(ctx, id)
		if err != nil {
			return summary, err
		}
		summary.Products++
		summary.Expiring += len(expiring)
		summary.Expired += len(expired)
		if j.Gauges != nil {
			j.Gauges.SetExpiring(id, len(expiring), len(expired))
		}
		for _, b := range expired {
			logger.Warn("expired batch holds stock",
				slog.Int64("product_id", id),
				slog.Int64("batch_id", b.ID),
				slog.String("batch_number", b.BatchNumber),
				slog.Int64("quantity", b.Quantity))
		}
	}
	return summary, nil
}
