package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/retailops/stockledger/internal/jobs"
)

// StockGauges receives per-product valuation snapshots.
type StockGauges interface {
	SetStock(productID, onHand int64, value decimal.Decimal)
}

// RevaluationJob recomputes every product's valuation and publishes it.
type RevaluationJob struct {
	Inventory   InventoryReader
	Gauges      StockGauges
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Parallelism int
}

// NewRevaluationJob initialises the revaluation handler.
func NewRevaluationJob(reader InventoryReader, gauges StockGauges, logger *slog.Logger, metrics *jobmetrics.Metrics) *RevaluationJob {
	return &RevaluationJob{Inventory: reader, Gauges: gauges, Logger: logger, Metrics: metrics, Parallelism: 4}
}

// Handle executes the revaluation.
func (j *RevaluationJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Inventory == nil {
		return errors.New("revaluation: handler not configured")
	}
	payload, err := decodeScan(t)
	if err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskInventoryRevaluation)
	total, err := j.Run(ctx, payload.ProductID)
	if err != nil {
		loggerOrDefault(j.Logger).Error("revaluation failed", slog.Any("error", err))
		return tracker.End(err)
	}
	loggerOrDefault(j.Logger).Info("revaluation complete", slog.String("total_value", total.StringFixed(2)))
	return tracker.End(nil)
}

// Run values productID, or every product when zero, and returns the summed
// stock value.
func (j *RevaluationJob) Run(ctx context.Context, productID int64) (decimal.Decimal, error) {
	ids, err := productScope(ctx, j.Inventory, productID)
	if err != nil {
		return decimal.Zero, err
	}
	values := make([]decimal.Decimal, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(j.Parallelism, 1))
	for i, id := range ids {
		g.Go(func() error {
			v, err := j.Inventory.CurrentValuation(gctx, id)
			if err != nil {
				return err
			}
			values[i] = v.TotalValue
			if j.Gauges != nil {
				j.Gauges.SetStock(id, v.TotalQuantity, v.TotalValue)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return decimal.Zero, err
	}
	return decimal.Sum(decimal.Zero, values...), nil
}

func productScope(ctx context.Context, reader InventoryReader, productID int64) ([]int64, error) {
	if productID > 0 {
		return []int64{productID}, nil
	}
	return reader.ProductIDs(ctx)
}
