package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/retailops/stockledger/internal/inventory"
	jobmetrics "github.com/retailops/stockledger/internal/jobs"
)

// LedgerReconcileJob checks that every product's ledger replays to its
// current batch quantities.
type LedgerReconcileJob struct {
	Inventory InventoryReader
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewLedgerReconcileJob initialises the reconciliation handler.
func NewLedgerReconcileJob(reader InventoryReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Inventory: reader, Logger: logger, Metrics: metrics}
}

// Handle executes the reconciliation. Discrepancies are reported, not
// returned as errors, so the task is not retried.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	payload, err := decodeScan(t)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskLedgerReconcile)
	reports, err := j.Run(ctx, payload.ProductID)
	if err != nil {
		loggerOrDefault(j.Logger).Error("ledger reconcile failed", slog.Any("error", err))
		return tracker.End(err)
	}
	loggerOrDefault(j.Logger).Info("ledger reconcile complete", slog.Int("inconsistent_products", len(reports)))
	return tracker.End(nil)
}

// Run reconciles productID, or every product when zero, and returns the
// reports that found discrepancies.
func (j *LedgerReconcileJob) Run(ctx context.Context, productID int64) ([]inventory.ReconciliationReport, error) {
	ids, err := productScope(ctx, j.Inventory, productID)
	if err != nil {
		return nil, err
	}
	logger := loggerOrDefault(j.Logger)
	var failed []inventory.ReconciliationReport
	for _, id := range ids {
		report, err := j.Inventory.Reconcile(ctx, id)
		if err != nil {
			return failed, err
		}
		if report.Consistent() {
			continue
		}
		failed = append(failed, report)
		j.Metrics.AddDiscrepancies(len(report.Discrepancies))
		for _, d := range report.Discrepancies {
			logger.Error("ledger discrepancy", slog.Int64("product_id", id), slog.String("detail", d))
		}
	}
	return failed, nil
}
