package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/retailops/stockledger/internal/shared"
)

var day0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type recordingIntegration struct {
	mu     sync.Mutex
	events []StockChangedEvent
	err    error
}

func (r *recordingIntegration) HandleStockChanged(_ context.Context, evt StockChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) ObserveMovement(kind MovementType, outcome string, batches int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, fmt.Sprintf("%s:%s:%d", kind, outcome, batches))
}

type staticSuppliers map[int64]bool

func (s staticSuppliers) Exists(_ context.Context, id int64) (bool, error) {
	return s[id], nil
}

type staticCatalog map[int64]ProductInfo

func (c staticCatalog) ProductInfo(_ context.Context, id int64) (ProductInfo, error) {
	info, ok := c[id]
	if !ok {
		return ProductInfo{}, ErrNotFound
	}
	return info, nil
}

func newTestService(repo *memoryRepo, deps ServiceDeps) *Service {
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return day0 }
	}
	return NewService(repo, ServiceConfig{}, deps)
}

func receive(t *testing.T, svc *Service, productID int64, number string, qty int64, cost string, at time.Time) Batch {
	t.Helper()
	result, err := svc.ReceiveBatch(context.Background(), ReceiveBatchInput{
		ProductID:   productID,
		BatchNumber: number,
		Quantity:    qty,
		CostPerUnit: decimal.RequireFromString(cost),
		ReceivedAt:  at,
	})
	require.NoError(t, err)
	return result.Batch
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func setMethod(t *testing.T, svc *Service, productID int64, method CostingMethod) {
	t.Helper()
	_, err := svc.UpdateSettings(context.Background(), productID, SettingsPatch{CostingMethod: &method})
	require.NoError(t, err)
}

func TestReceiveBatchRecordsReceipt(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()

	result, err := svc.ReceiveBatch(ctx, ReceiveBatchInput{
		ProductID:   1,
		BatchNumber: " B-001 ",
		Quantity:    10,
		CostPerUnit: decimal.RequireFromString("2.50"),
		ActorID:     7,
	})
	require.NoError(t, err)
	require.EqualValues(t, 10, result.OnHand)
	require.Equal(t, "B-001", result.Batch.BatchNumber)
	require.Equal(t, day0, result.Batch.ReceivedAt)
	require.Equal(t, MovementReceipt, result.Movement.Type)
	require.EqualValues(t, 0, result.Movement.QuantityBefore)
	require.EqualValues(t, 10, result.Movement.QuantityAfter)
	require.EqualValues(t, 7, result.Movement.ActorID)
	require.Equal(t, result.Batch.ID, *result.Movement.BatchID)

	record, err := svc.Inventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 10, record.OnHand)
	requireDecimal(t, "2.5", record.LastUnitCost)

	history, err := svc.History(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestReceiveBatchValidation(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceDeps{Suppliers: staticSuppliers{3: true}})
	expiry := day0.AddDate(0, 0, 10)
	manufactured := day0.AddDate(0, 0, 20)
	unknownSupplier := int64(9)

	cases := []struct {
		name  string
		input ReceiveBatchInput
		field string
	}{
		{"missing number", ReceiveBatchInput{ProductID: 1, Quantity: 1, CostPerUnit: decimal.NewFromInt(1)}, "batchNumber"},
		{"zero quantity", ReceiveBatchInput{ProductID: 1, BatchNumber: "B", CostPerUnit: decimal.NewFromInt(1)}, "quantity"},
		{"zero cost", ReceiveBatchInput{ProductID: 1, BatchNumber: "B", Quantity: 1}, "costPerUnit"},
		{"huge quantity", ReceiveBatchInput{ProductID: 1, BatchNumber: "B", Quantity: maxQuantity + 1, CostPerUnit: decimal.NewFromInt(1)}, "quantity"},
		{"dates inverted", ReceiveBatchInput{ProductID: 1, BatchNumber: "B", Quantity: 1, CostPerUnit: decimal.NewFromInt(1), ManufacturedAt: &manufactured, ExpiresAt: &expiry}, "manufacturedDate"},
		{"unknown supplier", ReceiveBatchInput{ProductID: 1, BatchNumber: "B", Quantity: 1, CostPerUnit: decimal.NewFromInt(1), SupplierID: &unknownSupplier}, "supplierId"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ReceiveBatch(context.Background(), tc.input)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestFIFOConsumesOldestFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	b1 := receive(t, svc, 1, "B1", 5, "10", day0)
	b2 := receive(t, svc, 1, "B2", 5, "20", day0.Add(24*time.Hour))

	result, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -7, Type: MovementSale, Reason: "order 1001"})
	require.NoError(t, err)
	require.Equal(t, []ConsumptionStep{
		{BatchID: b1.ID, Quantity: 5, UnitCost: b1.CostPerUnit},
		{BatchID: b2.ID, Quantity: 2, UnitCost: b2.CostPerUnit},
	}, result.Plan)
	requireDecimal(t, "90", result.CostOfGoods)
	require.EqualValues(t, 3, result.OnHand)
	require.Len(t, result.Movements, 2)
	require.EqualValues(t, -5, result.Movements[0].Delta)
	require.EqualValues(t, 5, result.Movements[0].QuantityBefore)
	require.EqualValues(t, 0, result.Movements[0].QuantityAfter)
	require.EqualValues(t, -2, result.Movements[1].Delta)
	require.EqualValues(t, 3, result.Movements[1].QuantityAfter)

	active, err := svc.ListActiveBatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, b2.ID, active[0].ID)
	require.EqualValues(t, 3, active[0].Quantity)

	all, err := svc.ListAllBatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestLIFOConsumesNewestFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	setMethod(t, svc, 1, CostingLIFO)
	b1 := receive(t, svc, 1, "B1", 5, "10", day0)
	b2 := receive(t, svc, 1, "B2", 5, "20", day0.Add(24*time.Hour))

	result, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -7, Type: MovementSale, Reason: "order 1002"})
	require.NoError(t, err)
	require.Len(t, result.Plan, 2)
	require.Equal(t, b2.ID, result.Plan[0].BatchID)
	require.EqualValues(t, 5, result.Plan[0].Quantity)
	require.Equal(t, b1.ID, result.Plan[1].BatchID)
	require.EqualValues(t, 2, result.Plan[1].Quantity)
	requireDecimal(t, "120", result.CostOfGoods)

	active, err := svc.ListActiveBatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, b1.ID, active[0].ID)
	require.EqualValues(t, 3, active[0].Quantity)
}

func TestAverageValuationAndConsumption(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	setMethod(t, svc, 1, CostingAverage)
	b1 := receive(t, svc, 1, "B1", 1, "10", day0)
	receive(t, svc, 1, "B2", 2, "17.5", day0.Add(time.Hour))

	valuation, err := svc.CurrentValuation(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 3, valuation.TotalQuantity)
	requireDecimal(t, "15", valuation.AverageCost)
	requireDecimal(t, "45", valuation.TotalValue)

	result, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -1, Reason: "damaged"})
	require.NoError(t, err)
	require.Equal(t, b1.ID, result.Plan[0].BatchID)
	require.Equal(t, MovementAdjustment, result.Movements[0].Type)
}

func TestInsufficientStockLeavesStateUntouched(t *testing.T) {
	repo := newMemoryRepo()
	metrics := &recordingMetrics{}
	svc := newTestService(repo, ServiceDeps{Metrics: metrics})
	ctx := context.Background()
	receive(t, svc, 1, "B1", 5, "10", day0)

	_, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -6, Type: MovementSale, Reason: "too much"})
	require.ErrorIs(t, err, ErrInsufficientStock)
	var ise *InsufficientStockError
	require.True(t, errors.As(err, &ise))
	require.EqualValues(t, 6, ise.Requested)
	require.EqualValues(t, 5, ise.Available)

	batches, err := svc.ListActiveBatches(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 5, batches[0].Quantity)
	history, err := svc.History(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Contains(t, metrics.outcomes, "SALE:insufficient:0")
}

func TestBatchReductionBelowZeroRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	b := receive(t, svc, 1, "B1", 5, "10", day0)
	receive(t, svc, 1, "B2", 50, "10", day0.Add(time.Hour))

	_, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, BatchID: &b.ID, Delta: -6, Reason: "count"})
	require.ErrorIs(t, err, ErrInsufficientQuantity)
	require.Contains(t, err.Error(), "cannot reduce batch")

	record, err := svc.Inventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 55, record.OnHand)
}

func TestPositiveAdjustmentTargetsBatch(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	b := receive(t, svc, 1, "B1", 5, "10", day0)

	result, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, BatchID: &b.ID, Delta: 3, Type: MovementReturn})
	require.NoError(t, err)
	require.EqualValues(t, 8, result.OnHand)
	require.EqualValues(t, 5, result.Movements[0].QuantityBefore)
	require.EqualValues(t, 8, result.Movements[0].QuantityAfter)

	missing := int64(404)
	_, err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, BatchID: &missing, Delta: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdjustmentValidation(t *testing.T) {
	metrics := &recordingMetrics{}
	svc := newTestService(newMemoryRepo(), ServiceDeps{Metrics: metrics})
	batchID := int64(1)
	cases := []struct {
		name  string
		input AdjustmentInput
		field string
	}{
		{"zero delta", AdjustmentInput{ProductID: 1, BatchID: &batchID}, "quantityChange"},
		{"increase without batch", AdjustmentInput{ProductID: 1, Delta: 2}, "batchId"},
		{"decrease without reason", AdjustmentInput{ProductID: 1, Delta: -2, Reason: "  "}, "reason"},
		{"receipt type", AdjustmentInput{ProductID: 1, BatchID: &batchID, Delta: 2, Type: MovementReceipt}, "type"},
		{"positive sale", AdjustmentInput{ProductID: 1, BatchID: &batchID, Delta: 2, Type: MovementSale}, "type"},
		{"negative return", AdjustmentInput{ProductID: 1, Delta: -2, Type: MovementReturn, Reason: "x"}, "type"},
		{"unknown type", AdjustmentInput{ProductID: 1, Delta: -2, Type: "THEFT", Reason: "x"}, "type"},
		{"missing product", AdjustmentInput{Delta: -2, Reason: "x"}, "productId"},
		{"min int delta", AdjustmentInput{ProductID: 1, Delta: math.MinInt64, Reason: "x"}, "quantityChange"},
		{"huge increase", AdjustmentInput{ProductID: 1, BatchID: &batchID, Delta: maxQuantity + 1}, "quantityChange"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Adjust(context.Background(), tc.input)
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			require.Contains(t, verr.Fields, tc.field)
		})
	}
	require.Len(t, metrics.outcomes, len(cases))
}

func TestIncreaseRejectsOnHandOverflow(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	b := receive(t, svc, 1, "B1", 5, "1", day0)
	repo.mutate(func(s *memoryState) {
		batch := s.batches[b.ID]
		batch.Quantity = math.MaxInt64 - 5
		s.batches[b.ID] = batch
		p := s.products[1]
		p.OnHand = batch.Quantity
		s.products[1] = p
	})

	_, err := svc.Adjust(context.Background(), AdjustmentInput{ProductID: 1, BatchID: &b.ID, Delta: 10})
	require.ErrorIs(t, err, ErrValidation)
	require.NotErrorIs(t, err, ErrInvariantViolation)

	_, err = svc.ReceiveBatch(context.Background(), ReceiveBatchInput{ProductID: 1, BatchNumber: "B2", Quantity: 10, CostPerUnit: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, ErrValidation)

	record, err := svc.Inventory(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, math.MaxInt64-5, record.OnHand)
}

func TestThresholdStatusBoundaries(t *testing.T) {
	repo := newMemoryRepo()
	events := &recordingIntegration{}
	svc := newTestService(repo, ServiceDeps{Integration: events})
	ctx := context.Background()
	reorder := int64(10)
	_, err := svc.UpdateSettings(ctx, 1, SettingsPatch{ReorderLevel: &reorder})
	require.NoError(t, err)
	receive(t, svc, 1, "B1", 11, "1", day0)

	status, err := svc.Status(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusNormal, status)

	result, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -1, Reason: "sample"})
	require.NoError(t, err)
	require.Equal(t, StatusLowStock, result.Status)

	result, err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -10, Reason: "write-off"})
	require.NoError(t, err)
	require.Equal(t, StatusOutOfStock, result.Status)

	require.Len(t, events.events, 3)
	require.False(t, events.events[0].EntersAlert())
	require.True(t, events.events[1].EntersAlert())
	require.Equal(t, StatusLowStock, events.events[1].Status)
	require.True(t, events.events[2].EntersAlert())
	require.Equal(t, StatusLowStock, events.events[2].PreviousStatus)
}

func TestIntegrationFailureDoesNotFailMutation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{Integration: &recordingIntegration{err: errors.New("redis down")}})
	receive(t, svc, 1, "B1", 5, "1", day0)

	record, err := svc.Inventory(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 5, record.OnHand)
}

func TestDuplicateRequestRejected(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	receive(t, svc, 1, "B1", 10, "1", day0)

	input := AdjustmentInput{ProductID: 1, Delta: -2, Type: MovementSale, Reason: "order", RequestID: "req-1"}
	_, err := svc.Adjust(ctx, input)
	require.NoError(t, err)
	_, err = svc.Adjust(ctx, input)
	require.ErrorIs(t, err, ErrDuplicateRequest)

	record, err := svc.Inventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 8, record.OnHand)
}

func TestFailedMovementRollsBackEverything(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	receive(t, svc, 1, "B1", 5, "10", day0)
	receive(t, svc, 1, "B2", 5, "20", day0.Add(time.Hour))

	calls := 0
	repo.failMovement = func(Movement) error {
		calls++
		if calls == 2 {
			return errors.New("connection reset")
		}
		return nil
	}
	_, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -7, Reason: "count", RequestID: "req-retry"})
	require.ErrorIs(t, err, ErrStorage)

	batches, err := svc.ListActiveBatches(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 5, batches[0].Quantity)
	require.EqualValues(t, 5, batches[1].Quantity)
	history, err := svc.History(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)

	repo.failMovement = nil
	result, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -7, Reason: "count", RequestID: "req-retry"})
	require.NoError(t, err)
	require.EqualValues(t, 3, result.OnHand)
}

func TestConcurrentAdjustmentsConserveStock(t *testing.T) {
	repo := newMemoryRepo()
	var ticks atomic.Int64
	clock := func() time.Time { return day0.Add(time.Duration(ticks.Add(1)) * time.Second) }
	svc := newTestService(repo, ServiceDeps{Metrics: &recordingMetrics{}, Clock: clock})
	ctx := context.Background()
	b := receive(t, svc, 1, "B1", 100, "3", day0)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if i%5 == 0 {
				_, err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, BatchID: &b.ID, Delta: 1, Type: MovementReturn})
			} else {
				_, err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -1, Type: MovementSale, Reason: "order"})
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	record, err := svc.Inventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 100-40+10, record.OnHand)

	report, err := svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.True(t, report.Consistent(), report.Discrepancies)
	require.Equal(t, 51, report.Movements)
	require.EqualValues(t, record.OnHand, report.BatchTotal)
}

func TestMovementTimeFollowsLockOrder(t *testing.T) {
	repo := newMemoryRepo()
	// The clock goes backwards between calls, as when an earlier reader
	// waits on the product lock while a later one commits.
	var calls atomic.Int64
	clock := func() time.Time { return day0.Add(-time.Duration(calls.Add(1)) * time.Minute) }
	svc := newTestService(repo, ServiceDeps{Clock: clock})
	ctx := context.Background()
	b := receive(t, svc, 1, "B1", 10, "1", day0)

	first, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -3, Reason: "order"})
	require.NoError(t, err)
	second, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, BatchID: &b.ID, Delta: 1, Type: MovementReturn})
	require.NoError(t, err)
	require.False(t, second.Movements[0].CreatedAt.Before(first.Movements[0].CreatedAt))

	record, err := svc.Inventory(ctx, 1)
	require.NoError(t, err)
	require.False(t, record.UpdatedAt.Before(second.Movements[0].CreatedAt))

	report, err := svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.True(t, report.Consistent(), report.Discrepancies)
	require.EqualValues(t, 8, report.BatchTotal)
}

func TestReconcileDetectsDrift(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, ServiceDeps{})
	ctx := context.Background()
	b := receive(t, svc, 1, "B1", 10, "1", day0)

	repo.mutate(func(s *memoryState) {
		batch := s.batches[b.ID]
		batch.Quantity = 7
		s.batches[b.ID] = batch
	})

	report, err := svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	require.False(t, report.Consistent())
	require.Len(t, report.Discrepancies, 2)

	_, err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -1, Reason: "count"})
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestUpdateSettings(t *testing.T) {
	repo := newMemoryRepo()
	audit := &recordingAudit{}
	svc := newTestService(repo, ServiceDeps{Audit: audit})
	ctx := context.Background()
	reorder, optimal := int64(5), int64(20)
	zone := " A1 "

	record, err := svc.UpdateSettings(ctx, 1, SettingsPatch{ReorderLevel: &reorder, OptimalLevel: &optimal, WarehouseZone: &zone, ActorID: 3})
	require.NoError(t, err)
	require.EqualValues(t, 5, record.ReorderLevel)
	require.EqualValues(t, 20, record.OptimalLevel)
	require.Equal(t, "A1", record.WarehouseZone)
	require.Equal(t, CostingFIFO, record.CostingMethod)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "inventory:settings", audit.logs[0].Action)
	require.Equal(t, "1", audit.logs[0].EntityID)
	require.EqualValues(t, 3, audit.logs[0].ActorID)

	low := int64(3)
	_, err = svc.UpdateSettings(ctx, 1, SettingsPatch{OptimalLevel: &low})
	require.ErrorIs(t, err, ErrValidation)

	bad := CostingMethod("HIFO")
	_, err = svc.UpdateSettings(ctx, 1, SettingsPatch{CostingMethod: &bad})
	require.ErrorIs(t, err, ErrValidation)

	record, err = svc.Inventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 20, record.OptimalLevel)
}

func TestUnknownProductReadsDefaults(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceDeps{})
	ctx := context.Background()

	record, err := svc.Inventory(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 42, record.ProductID)
	require.EqualValues(t, 0, record.OnHand)
	require.Equal(t, CostingFIFO, record.CostingMethod)

	status, err := svc.Status(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, StatusOutOfStock, status)

	valuation, err := svc.CurrentValuation(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 0, valuation.TotalQuantity)
	require.True(t, valuation.TotalValue.IsZero())

	batches, err := svc.ListActiveBatches(ctx, 42)
	require.NoError(t, err)
	require.Empty(t, batches)
}

func TestDrainedProductKeepsLastCost(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceDeps{})
	ctx := context.Background()
	receive(t, svc, 1, "B1", 2, "4.25", day0)

	_, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -2, Type: MovementSale, Reason: "order"})
	require.NoError(t, err)

	valuation, err := svc.CurrentValuation(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 0, valuation.TotalQuantity)
	requireDecimal(t, "4.25", valuation.AverageCost)
	require.True(t, valuation.TotalValue.IsZero())
}

func TestResolveConsumptionDoesNotMutate(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceDeps{})
	ctx := context.Background()
	receive(t, svc, 1, "B1", 5, "10", day0)

	plan, err := svc.ResolveConsumption(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, plan, 1)

	_, err = svc.ResolveConsumption(ctx, 1, 6)
	require.ErrorIs(t, err, ErrInsufficientStock)

	record, err := svc.Inventory(ctx, 1)
	require.NoError(t, err)
	require.EqualValues(t, 5, record.OnHand)
}

func TestHistoryPagingAndSequence(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceDeps{})
	ctx := context.Background()
	receive(t, svc, 1, "B1", 10, "1", day0)
	for range 5 {
		_, err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, Delta: -1, Reason: "pick"})
		require.NoError(t, err)
	}

	page, err := svc.History(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.EqualValues(t, 5, page[0].QuantityAfter)

	var afters []int64
	for m, err := range svc.HistorySeq(ctx, 1, 2) {
		require.NoError(t, err)
		afters = append(afters, m.QuantityAfter)
	}
	require.Equal(t, []int64{10, 9, 8, 7, 6, 5}, afters)

	_, err = svc.History(ctx, 0, 10, 0)
	require.ErrorIs(t, err, ErrValidation)
}

func TestExpiringAndExpiredBatches(t *testing.T) {
	svc := newTestService(newMemoryRepo(), ServiceDeps{})
	ctx := context.Background()
	soon, later, past := day0.AddDate(0, 0, 10), day0.AddDate(0, 0, 40), day0.AddDate(0, 0, -1)
	for i, exp := range []time.Time{soon, later, past} {
		_, err := svc.ReceiveBatch(ctx, ReceiveBatchInput{
			ProductID:   1,
			BatchNumber: fmt.Sprintf("E%d", i),
			Quantity:    1,
			CostPerUnit: decimal.NewFromInt(1),
			ReceivedAt:  day0.AddDate(0, 0, -30),
			ExpiresAt:   &exp,
		})
		require.NoError(t, err)
	}

	expiring, err := svc.ExpiringBatches(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	require.Equal(t, "E0", expiring[0].BatchNumber)

	expiring, err = svc.ExpiringBatches(ctx, 1, 45)
	require.NoError(t, err)
	require.Len(t, expiring, 2)
	require.Equal(t, "E1", expiring[1].BatchNumber)

	expired, err := svc.ExpiredBatches(ctx, 1)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	require.Equal(t, "E2", expired[0].BatchNumber)
}

func TestProductView(t *testing.T) {
	catalog := staticCatalog{1: {ID: 1, SKU: "SKU-1", Name: "Widget", SellPrice: decimal.NewFromInt(9)}}
	svc := newTestService(newMemoryRepo(), ServiceDeps{Catalog: catalog})
	ctx := context.Background()
	expiry := day0.AddDate(0, 0, 5)
	_, err := svc.ReceiveBatch(ctx, ReceiveBatchInput{ProductID: 1, BatchNumber: "V1", Quantity: 4, CostPerUnit: decimal.NewFromInt(2), ExpiresAt: &expiry})
	require.NoError(t, err)

	view, err := svc.ProductView(ctx, 1, 10)
	require.NoError(t, err)
	require.NotNil(t, view.Product)
	require.Equal(t, "Widget", view.Product.Name)
	require.Len(t, view.Batches, 1)
	require.Equal(t, ExpiryExpiringSoon, view.Batches[0].Expiry)
	requireDecimal(t, "8", view.Batches[0].TotalValue)
	require.Len(t, view.History, 1)
	require.Equal(t, StatusNormal, view.Status)

	view, err = svc.ProductView(ctx, 2, 10)
	require.NoError(t, err)
	require.Nil(t, view.Product)
	require.Empty(t, view.Batches)
}
