package inventory

import (
	"context"
	"log/slog"
	"time"
)

// notify hands a committed stock change to the integration handler. The
// mutation is already durable, so failures are only logged.
func (s *Service) notify(ctx context.Context, before ProductInventory, onHand int64, kind MovementType, delta int64, at time.Time) {
	if s.integration == nil {
		return
	}
	after := before
	after.OnHand = onHand
	evt := StockChangedEvent{
		ProductID:      before.ProductID,
		OnHand:         onHand,
		PreviousStatus: StatusFor(before),
		Status:         StatusFor(after),
		MovementType:   kind,
		Delta:          delta,
		ReorderLevel:   before.ReorderLevel,
		OccurredAt:     at,
	}
	if err := s.integration.HandleStockChanged(ctx, evt); err != nil {
		s.logger.Warn("publish stock change",
			slog.Int64("product_id", evt.ProductID),
			slog.String("status", string(evt.Status)),
			slog.Any("error", err))
	}
}

// EntersAlert reports whether the change moved the product into a low or
// empty state it was not already in.
func (e StockChangedEvent) EntersAlert() bool {
	if e.Status == e.PreviousStatus {
		return false
	}
	return e.Status == StatusLowStock || e.Status == StatusOutOfStock
}
