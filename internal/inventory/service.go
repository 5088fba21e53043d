package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/retailops/stockledger/internal/shared"
)

const maxReasonLen = 500

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SupplierDirectory answers whether a supplier is selectable for batches.
type SupplierDirectory interface {
	Exists(ctx context.Context, supplierID int64) (bool, error)
}

// ProductCatalog provides display fields for products.
type ProductCatalog interface {
	ProductInfo(ctx context.Context, productID int64) (ProductInfo, error)
}

// MetricsRecorder receives adjustment outcomes.
type MetricsRecorder interface {
	ObserveMovement(kind MovementType, outcome string, batches int)
}

// Service coordinates inventory operations. It is the only component that
// mutates batches or aggregate stock.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	integration IntegrationHandler
	suppliers   SupplierDirectory
	catalog     ProductCatalog
	metrics     MetricsRecorder
	logger      *slog.Logger
	cfg         ServiceConfig
	now         func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DefaultCostingMethod CostingMethod
	ExpiryWindowDays     int
}

// ServiceDeps groups the collaborators of Service; all are optional.
type ServiceDeps struct {
	Audit       AuditPort
	Integration IntegrationHandler
	Suppliers   SupplierDirectory
	Catalog     ProductCatalog
	Metrics     MetricsRecorder
	Logger      *slog.Logger
	Clock       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig, deps ServiceDeps) *Service {
	if !cfg.DefaultCostingMethod.Valid() {
		cfg.DefaultCostingMethod = DefaultCostingMethod
	}
	if cfg.ExpiryWindowDays <= 0 {
		cfg.ExpiryWindowDays = 30
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:        repo,
		audit:       deps.Audit,
		integration: deps.Integration,
		suppliers:   deps.Suppliers,
		catalog:     deps.Catalog,
		metrics:     deps.Metrics,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return clock().UTC() },
	}
}

// ReceiveBatch records a new batch and its RECEIPT movement atomically.
func (s *Service) ReceiveBatch(ctx context.Context, input ReceiveBatchInput) (ReceiptResult, error) {
	if err := validateReceipt(input); err != nil {
		s.observe(MovementReceipt, err, 0)
		return ReceiptResult{}, err
	}
	if err := s.checkSupplier(ctx, input.SupplierID); err != nil {
		s.observe(MovementReceipt, err, 0)
		return ReceiptResult{}, err
	}
	var now time.Time
	var result ReceiptResult
	var before ProductInventory
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := claim(ctx, tx, input.RequestID); err != nil {
			return err
		}
		record, store, err := s.lock(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		before = record
		now = s.stamp(record)
		batch, err := store.create(ctx, input, now)
		if err != nil {
			return err
		}
		batchID := batch.ID
		movement, err := (&ledger{tx: tx, store: store}).append(ctx, Movement{
			ProductID:      input.ProductID,
			BatchID:        &batchID,
			Delta:          batch.Quantity,
			QuantityBefore: 0,
			QuantityAfter:  batch.Quantity,
			Type:           MovementReceipt,
			Reason:         receiptReason(batch),
			UnitCost:       batch.CostPerUnit,
			ActorID:        input.ActorID,
			RequestID:      input.RequestID,
			CreatedAt:      now,
		})
		if err != nil {
			return err
		}
		onHand := store.onHand()
		if err := tx.UpdateStock(ctx, input.ProductID, onHand, batch.CostPerUnit, now); err != nil {
			return err
		}
		result = ReceiptResult{Batch: batch, OnHand: onHand, Movement: movement}
		return nil
	})
	if err != nil {
		err = wrapStorage("receive batch", err)
		s.observe(MovementReceipt, err, 0)
		return ReceiptResult{}, err
	}
	s.observe(MovementReceipt, nil, 1)
	s.logger.Info("batch received",
		slog.Int64("product_id", input.ProductID),
		slog.Int64("batch_id", result.Batch.ID),
		slog.Int64("quantity", result.Batch.Quantity),
		slog.Int64("on_hand", result.OnHand))
	s.notify(ctx, before, result.OnHand, MovementReceipt, result.Batch.Quantity, now)
	return result, nil
}

// Adjust applies a quantity change against one batch, or against the
// product's aggregate stock for decreases. Every touched batch gets its own
// movement; batches, movements and on-hand commit together or not at all.
func (s *Service) Adjust(ctx context.Context, input AdjustmentInput) (AdjustmentResult, error) {
	if err := validateAdjustment(&input); err != nil {
		s.observe(input.Type, err, 0)
		return AdjustmentResult{}, err
	}
	var now time.Time
	var result AdjustmentResult
	var before ProductInventory
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := claim(ctx, tx, input.RequestID); err != nil {
			return err
		}
		record, store, err := s.lock(ctx, tx, input.ProductID)
		if err != nil {
			return err
		}
		before = record
		now = s.stamp(record)

		plan, err := s.resolve(store, record, input)
		if err != nil {
			return err
		}

		led := &ledger{tx: tx, store: store}
		movements := make([]Movement, 0, len(plan))
		for _, step := range plan {
			var qtyBefore, qtyAfter int64
			delta := step.Quantity
			if input.Delta > 0 {
				qtyBefore, qtyAfter, err = store.increase(ctx, step.BatchID, step.Quantity)
			} else {
				delta = -step.Quantity
				qtyBefore, qtyAfter, err = store.reduce(ctx, step.BatchID, step.Quantity)
			}
			if err != nil {
				return err
			}
			batchID := step.BatchID
			movement, err := led.append(ctx, Movement{
				ProductID:      input.ProductID,
				BatchID:        &batchID,
				Delta:          delta,
				QuantityBefore: qtyBefore,
				QuantityAfter:  qtyAfter,
				Type:           input.Type,
				Reason:         input.Reason,
				UnitCost:       step.UnitCost,
				ActorID:        input.ActorID,
				RequestID:      input.RequestID,
				CreatedAt:      now,
			})
			if err != nil {
				return err
			}
			movements = append(movements, movement)
		}

		onHand := store.onHand()
		if onHand != record.OnHand+input.Delta {
			return invariantf("on-hand moved from %d to %d for delta %d", record.OnHand, onHand, input.Delta)
		}
		lastCost := record.LastUnitCost
		if onHand == 0 && len(plan) > 0 {
			lastCost = plan[len(plan)-1].UnitCost
		}
		if err := tx.UpdateStock(ctx, input.ProductID, onHand, lastCost, now); err != nil {
			return err
		}
		record.OnHand = onHand
		result = AdjustmentResult{
			ProductID:   input.ProductID,
			OnHand:      onHand,
			Plan:        plan,
			Movements:   movements,
			CostOfGoods: ConsumptionCost(plan),
			Status:      StatusFor(record),
		}
		return nil
	})
	if err != nil {
		err = wrapStorage("adjust", err)
		s.observe(input.Type, err, 0)
		if errors.Is(err, ErrStorage) || errors.Is(err, ErrInvariantViolation) {
			s.logger.Error("inventory adjustment failed", slog.Int64("product_id", input.ProductID), slog.Any("error", err))
		}
		return AdjustmentResult{}, err
	}
	s.observe(input.Type, nil, len(result.Movements))
	s.logger.Info("inventory adjusted",
		slog.Int64("product_id", input.ProductID),
		slog.String("type", string(input.Type)),
		slog.Int64("delta", input.Delta),
		slog.Int("batches", len(result.Movements)),
		slog.Int64("on_hand", result.OnHand))
	s.notify(ctx, before, result.OnHand, input.Type, input.Delta, now)
	return result, nil
}

// UpdateSettings edits the product-level inventory settings only.
func (s *Service) UpdateSettings(ctx context.Context, productID int64, patch SettingsPatch) (ProductInventory, error) {
	if err := validateSettings(productID, patch); err != nil {
		return ProductInventory{}, err
	}
	var now time.Time
	var before, after ProductInventory
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		record, err := tx.LockProduct(ctx, productID, s.defaultRecord(productID))
		if err != nil {
			return err
		}
		before = record
		now = s.stamp(record)
		if patch.ReorderLevel != nil {
			record.ReorderLevel = *patch.ReorderLevel
		}
		if patch.OptimalLevel != nil {
			record.OptimalLevel = *patch.OptimalLevel
		}
		if patch.WarehouseZone != nil {
			record.WarehouseZone = strings.TrimSpace(*patch.WarehouseZone)
		}
		if patch.BinLocation != nil {
			record.BinLocation = strings.TrimSpace(*patch.BinLocation)
		}
		if patch.CostingMethod != nil {
			record.CostingMethod = *patch.CostingMethod
		}
		if record.OptimalLevel > 0 && record.OptimalLevel < record.ReorderLevel {
			return newValidationError("optimalLevel", "must not be below reorder level")
		}
		record.UpdatedAt = now
		if err := tx.UpdateSettings(ctx, record); err != nil {
			return err
		}
		after = record
		return nil
	})
	if err != nil {
		return ProductInventory{}, wrapStorage("update settings", err)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  patch.ActorID,
			Action:   "inventory:settings",
			Entity:   "inventory_product",
			EntityID: fmt.Sprintf("%d", productID),
			Meta: map[string]any{
				"before": settingsMeta(before),
				"after":  settingsMeta(after),
			},
			At: now,
		}); err != nil {
			s.logger.Warn("audit inventory settings", slog.Int64("product_id", productID), slog.Any("error", err))
		}
	}
	return after, nil
}

// Inventory returns the product record, or an empty default for untracked products.
func (s *Service) Inventory(ctx context.Context, productID int64) (ProductInventory, error) {
	record, err := s.repo.GetProduct(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		return s.defaultRecord(productID), nil
	}
	if err != nil {
		return ProductInventory{}, wrapStorage("get product", err)
	}
	return record, nil
}

// ProductIDs lists every product with an inventory record, ascending.
func (s *Service) ProductIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.repo.ListProductIDs(ctx)
	if err != nil {
		return nil, wrapStorage("list products", err)
	}
	return ids, nil
}

// ListActiveBatches returns batches still holding stock, oldest first.
func (s *Service) ListActiveBatches(ctx context.Context, productID int64) ([]Batch, error) {
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return nil, wrapStorage("list batches", err)
	}
	return ActiveBatches(batches), nil
}

// ListAllBatches returns every batch including drained ones, oldest first.
func (s *Service) ListAllBatches(ctx context.Context, productID int64) ([]Batch, error) {
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return nil, wrapStorage("list batches", err)
	}
	sortOldestFirst(batches)
	return batches, nil
}

// CurrentValuation computes the valuation snapshot from committed state.
func (s *Service) CurrentValuation(ctx context.Context, productID int64) (Valuation, error) {
	var valuation Valuation
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r Reader) error {
		record, batches, err := s.readState(ctx, r, productID)
		if err != nil {
			return err
		}
		valuation = Valuate(batches, record.LastUnitCost)
		return nil
	})
	if err != nil {
		return Valuation{}, wrapStorage("valuation", err)
	}
	return valuation, nil
}

// ResolveConsumption previews which batches a decrease of qty would draw
// from under the product's costing method. Nothing is mutated.
func (s *Service) ResolveConsumption(ctx context.Context, productID, qty int64) ([]ConsumptionStep, error) {
	var plan []ConsumptionStep
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r Reader) error {
		record, batches, err := s.readState(ctx, r, productID)
		if err != nil {
			return err
		}
		plan, err = PlanConsumption(productID, batches, record.CostingMethod, qty)
		return err
	})
	if err != nil {
		return nil, wrapStorage("resolve consumption", err)
	}
	return plan, nil
}

func (s *Service) resolve(store *batchStore, record ProductInventory, input AdjustmentInput) ([]ConsumptionStep, error) {
	if input.BatchID == nil {
		return PlanConsumption(input.ProductID, store.all(), record.CostingMethod, -input.Delta)
	}
	batch, ok := store.get(*input.BatchID)
	if !ok {
		return nil, fmt.Errorf("%w: batch %d for product %d", ErrNotFound, *input.BatchID, input.ProductID)
	}
	amount := input.Delta
	if amount < 0 {
		amount = -amount
	}
	return []ConsumptionStep{{BatchID: batch.ID, Quantity: amount, UnitCost: batch.CostPerUnit}}, nil
}

// lock takes the product row lock and loads its batches under it.
func (s *Service) lock(ctx context.Context, tx TxRepository, productID int64) (ProductInventory, *batchStore, error) {
	record, err := tx.LockProduct(ctx, productID, s.defaultRecord(productID))
	if err != nil {
		return ProductInventory{}, nil, err
	}
	store, err := loadBatchStore(ctx, tx, productID)
	if err != nil {
		return ProductInventory{}, nil, err
	}
	if len(store.batches) > 0 && record.OnHand != store.onHand() {
		return ProductInventory{}, nil, invariantf("product %d on-hand %d differs from batch total %d", productID, record.OnHand, store.onHand())
	}
	return record, store, nil
}

// stamp reads the clock while the product row is locked. Movement time never
// falls behind the product's last update, so ledger order by created_at
// follows commit order.
func (s *Service) stamp(record ProductInventory) time.Time {
	now := s.now()
	if now.Before(record.UpdatedAt) {
		return record.UpdatedAt
	}
	return now
}

func (s *Service) readState(ctx context.Context, r Reader, productID int64) (ProductInventory, []Batch, error) {
	record, err := r.GetProduct(ctx, productID)
	if errors.Is(err, ErrNotFound) {
		record, err = s.defaultRecord(productID), nil
	}
	if err != nil {
		return ProductInventory{}, nil, err
	}
	batches, err := r.ListBatches(ctx, productID)
	if err != nil {
		return ProductInventory{}, nil, err
	}
	return record, batches, nil
}

func (s *Service) defaultRecord(productID int64) ProductInventory {
	return ProductInventory{
		ProductID:     productID,
		CostingMethod: s.cfg.DefaultCostingMethod,
		LastUnitCost:  decimal.Zero,
	}
}

func (s *Service) checkSupplier(ctx context.Context, supplierID *int64) error {
	if supplierID == nil || s.suppliers == nil {
		return nil
	}
	ok, err := s.suppliers.Exists(ctx, *supplierID)
	if err != nil {
		return wrapStorage("lookup supplier", err)
	}
	if !ok {
		return newValidationError("supplierId", "unknown supplier")
	}
	return nil
}

func (s *Service) observe(kind MovementType, err error, batches int) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrValidation):
		outcome = "invalid"
	case errors.Is(err, ErrInsufficientStock), errors.Is(err, ErrInsufficientQuantity):
		outcome = "insufficient"
	case errors.Is(err, ErrDuplicateRequest):
		outcome = "duplicate"
	default:
		outcome = "error"
	}
	s.metrics.ObserveMovement(kind, outcome, batches)
}

func claim(ctx context.Context, tx TxRepository, requestID string) error {
	if requestID == "" {
		return nil
	}
	return tx.ClaimRequest(ctx, requestID)
}

func validateAdjustment(input *AdjustmentInput) error {
	if input.Type == "" {
		input.Type = MovementAdjustment
	}
	input.Reason = strings.TrimSpace(input.Reason)
	verr := &ValidationError{}
	if input.ProductID <= 0 {
		verr.add("productId", "product is required")
	}
	switch {
	case input.Delta == 0:
		verr.add("quantityChange", "must not be zero")
	case input.Delta > maxQuantity || input.Delta < -maxQuantity:
		verr.add("quantityChange", "must be between -1000000000 and 1000000000")
	}
	if input.BatchID != nil && *input.BatchID <= 0 {
		verr.add("batchId", "invalid batch")
	}
	if input.Delta > 0 && input.BatchID == nil {
		verr.add("batchId", "increases must target a specific batch")
	}
	if input.Delta < 0 && input.Reason == "" {
		verr.add("reason", "reason is required for decreases")
	}
	if len(input.Reason) > maxReasonLen {
		verr.add("reason", "reason is too long")
	}
	switch {
	case !input.Type.Valid():
		verr.add("type", "unknown movement type")
	case input.Type == MovementReceipt:
		verr.add("type", "receipts must create a batch")
	case input.Type == MovementSale && input.Delta > 0:
		verr.add("type", "sales must decrease stock")
	case input.Type == MovementReturn && input.Delta < 0:
		verr.add("type", "returns must increase stock")
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func validateSettings(productID int64, patch SettingsPatch) error {
	verr := &ValidationError{}
	if productID <= 0 {
		verr.add("productId", "product is required")
	}
	if patch.ReorderLevel != nil && *patch.ReorderLevel < 0 {
		verr.add("reorderLevel", "must not be negative")
	}
	if patch.OptimalLevel != nil && *patch.OptimalLevel < 0 {
		verr.add("optimalLevel", "must not be negative")
	}
	if patch.CostingMethod != nil && !patch.CostingMethod.Valid() {
		verr.add("inventoryValueMethod", "must be FIFO, LIFO or AVERAGE")
	}
	if verr.empty() {
		return nil
	}
	return verr
}

func receiptReason(b Batch) string {
	return "Batch " + b.BatchNumber + " received"
}

func settingsMeta(p ProductInventory) map[string]any {
	return map[string]any{
		"reorder_level":  p.ReorderLevel,
		"optimal_level":  p.OptimalLevel,
		"warehouse_zone": p.WarehouseZone,
		"bin_location":   p.BinLocation,
		"costing_method": string(p.CostingMethod),
	}
}
