package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/retailops/stockledger/internal/inventory"
	"github.com/retailops/stockledger/jobs"
)

// StockChangedChannel is the Redis pub/sub channel carrying stock changes.
const StockChangedChannel = "inventory.stock_changed"

// Publisher is satisfied by *redis.Client.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// AlertQueue enqueues threshold alerts for the worker.
type AlertQueue interface {
	EnqueueStockAlert(ctx context.Context, payload jobs.StockAlertPayload) error
}

// Hooks fans committed stock changes out to subscribers and the alert queue.
type Hooks struct {
	publisher Publisher
	alerts    AlertQueue
}

var _ inventory.IntegrationHandler = (*Hooks)(nil)

// NewHooks constructs integration hooks. Either dependency may be nil.
func NewHooks(publisher Publisher, alerts AlertQueue) *Hooks {
	return &Hooks{publisher: publisher, alerts: alerts}
}

// HandleStockChanged publishes evt and enqueues an alert when the product
// just entered LOW_STOCK or OUT_OF_STOCK. Both are attempted; their errors
// are joined.
func (h *Hooks) HandleStockChanged(ctx context.Context, evt inventory.StockChangedEvent) error {
	if h == nil {
		return nil
	}
	var errs []error
	if h.publisher != nil {
		body, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("integration: encode stock event: %w", err)
		}
		if err := h.publisher.Publish(ctx, StockChangedChannel, body).Err(); err != nil {
			errs = append(errs, fmt.Errorf("integration: publish stock event: %w", err))
		}
	}
	if h.alerts != nil && evt.EntersAlert() {
		if err := h.alerts.EnqueueStockAlert(ctx, alertPayload(evt)); err != nil {
			errs = append(errs, fmt.Errorf("integration: enqueue stock alert: %w", err))
		}
	}
	return errors.Join(errs...)
}

func alertPayload(evt inventory.StockChangedEvent) jobs.StockAlertPayload {
	return jobs.StockAlertPayload{
		ProductID:    evt.ProductID,
		Status:       string(evt.Status),
		OnHand:       evt.OnHand,
		ReorderLevel: evt.ReorderLevel,
		OccurredAt:   evt.OccurredAt,
	}
}
