package inventory

import "context"

// IntegrationHandler receives committed stock changes for downstream consumers.
type IntegrationHandler interface {
	HandleStockChanged(ctx context.Context, evt StockChangedEvent) error
}
