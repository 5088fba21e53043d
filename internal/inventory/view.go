package inventory

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ProductView loads the batch screen for a product: record, all batches,
// the newest page of history, valuation and status. Stock data comes from a
// single snapshot; catalog display fields are fetched alongside it.
func (s *Service) ProductView(ctx context.Context, productID int64, historyLimit int) (ProductView, error) {
	if productID <= 0 {
		return ProductView{}, newValidationError("productId", "product is required")
	}
	var view ProductView
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.repo.WithSnapshot(gctx, func(ctx context.Context, r Reader) error {
			record, batches, err := s.readState(ctx, r, productID)
			if err != nil {
				return err
			}
			history, err := r.ListMovements(ctx, normaliseFilter(MovementFilter{ProductID: productID, Limit: historyLimit}))
			if err != nil {
				return err
			}
			sortOldestFirst(batches)
			now := s.now()
			window := days(s.cfg.ExpiryWindowDays)
			views := make([]BatchView, 0, len(batches))
			for _, b := range batches {
				views = append(views, BatchView{Batch: b, Expiry: ExpiryStateOf(b, now, window), TotalValue: b.Value()})
			}
			view.Inventory = record
			view.Batches = views
			view.History = history
			view.Valuation = Valuate(batches, record.LastUnitCost)
			view.Status = StatusFor(record)
			return nil
		})
	})
	var info *ProductInfo
	if s.catalog != nil {
		g.Go(func() error {
			p, err := s.catalog.ProductInfo(gctx, productID)
			if err != nil {
				if !errors.Is(err, ErrNotFound) {
					s.logger.Warn("load catalog product", slog.Int64("product_id", productID), slog.Any("error", err))
				}
				return nil
			}
			info = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ProductView{}, wrapStorage("product view", err)
	}
	view.Product = info
	return view, nil
}
