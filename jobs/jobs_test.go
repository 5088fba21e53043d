package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/retailops/stockledger/internal/inventory"
	jobmetrics "github.com/retailops/stockledger/internal/jobs"
)

type fakeInventory struct {
	records    map[int64]inventory.ProductInventory
	valuations map[int64]inventory.Valuation
	expiring   map[int64][]inventory.Batch
	expired    map[int64][]inventory.Batch
	reports    map[int64]inventory.ReconciliationReport
	err        error
}

func (f *fakeInventory) ProductIDs(context.Context) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]int64, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeInventory) Inventory(_ context.Context, id int64) (inventory.ProductInventory, error) {
	return f.records[id], f.err
}

func (f *fakeInventory) CurrentValuation(_ context.Context, id int64) (inventory.Valuation, error) {
	return f.valuations[id], f.err
}

func (f *fakeInventory) ExpiringBatches(_ context.Context, id int64, _ int) ([]inventory.Batch, error) {
	return f.expiring[id], f.err
}

func (f *fakeInventory) ExpiredBatches(_ context.Context, id int64) ([]inventory.Batch, error) {
	return f.expired[id], f.err
}

func (f *fakeInventory) Reconcile(_ context.Context, id int64) (inventory.ReconciliationReport, error) {
	report, ok := f.reports[id]
	if !ok {
		report = inventory.ReconciliationReport{ProductID: id}
	}
	return report, f.err
}

type recordingGauges struct {
	mu       sync.Mutex
	stock    map[int64]decimal.Decimal
	expiring map[int64][2]int
}

func newRecordingGauges() *recordingGauges {
	return &recordingGauges{stock: map[int64]decimal.Decimal{}, expiring: map[int64][2]int{}}
}

func (g *recordingGauges) SetStock(id, _ int64, value decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stock[id] = value
}

func (g *recordingGauges) SetExpiring(id int64, expiring, expired int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expiring[id] = [2]int{expiring, expired}
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestRevaluationSumsProducts(t *testing.T) {
	inv := &fakeInventory{
		records: map[int64]inventory.ProductInventory{1: {}, 2: {}},
		valuations: map[int64]inventory.Valuation{
			1: {TotalQuantity: 3, TotalValue: decimal.RequireFromString("45")},
			2: {TotalQuantity: 1, TotalValue: decimal.RequireFromString("2.5")},
		},
	}
	gauges := newRecordingGauges()
	job := NewRevaluationJob(inv, gauges, nil, testMetrics())

	total, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("47.5").Equal(total), total.String())
	require.Len(t, gauges.stock, 2)

	task, err := NewInventoryRevaluationTask(2)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestRevaluationPropagatesErrors(t *testing.T) {
	job := NewRevaluationJob(&fakeInventory{err: errors.New("db down")}, nil, nil, testMetrics())
	task, err := NewInventoryRevaluationTask(0)
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestExpiryScanCountsBatches(t *testing.T) {
	inv := &fakeInventory{
		records:  map[int64]inventory.ProductInventory{1: {}, 2: {}},
		expiring: map[int64][]inventory.Batch{1: {{ID: 10}, {ID: 11}}},
		expired:  map[int64][]inventory.Batch{2: {{ID: 20, BatchNumber: "B-20", Quantity: 4}}},
	}
	gauges := newRecordingGauges()
	job := NewExpiryScanJob(inv, gauges, 30, nil, testMetrics())

	summary, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, ExpirySummary{Products: 2, Expiring: 2, Expired: 1}, summary)
	require.Equal(t, [2]int{2, 0}, gauges.expiring[1])
	require.Equal(t, [2]int{0, 1}, gauges.expiring[2])
}

func TestLedgerReconcileReportsInconsistentProducts(t *testing.T) {
	inv := &fakeInventory{
		records: map[int64]inventory.ProductInventory{1: {}, 2: {}},
		reports: map[int64]inventory.ReconciliationReport{
			2: {ProductID: 2, Discrepancies: []string{"batch 5 holds 3, ledger ends at 4"}},
		},
	}
	job := NewLedgerReconcileJob(inv, nil, testMetrics())

	failed, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.EqualValues(t, 2, failed[0].ProductID)

	task, err := NewLedgerReconcileTask(0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestStockAlertSkipsResolvedAlerts(t *testing.T) {
	inv := &fakeInventory{records: map[int64]inventory.ProductInventory{
		1: {ProductID: 1, OnHand: 50, ReorderLevel: 10},
		2: {ProductID: 2, OnHand: 0, ReorderLevel: 10},
	}}
	job := NewStockAlertJob(inv, nil, testMetrics())

	for _, id := range []int64{1, 2} {
		task, err := NewStockAlertTask(StockAlertPayload{ProductID: id, Status: "LOW_STOCK", OccurredAt: time.Now()})
		require.NoError(t, err)
		require.NoError(t, job.Handle(context.Background(), task))
	}

	bad := asynq.NewTask(TaskStockAlert, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type fakeCleaner struct {
	retention time.Duration
	removed   int64
}

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.removed, nil
}

func TestIdempotencyCleanupUsesPayloadRetention(t *testing.T) {
	store := &fakeCleaner{removed: 4}
	job := NewIdempotencyCleanupJob(store, 72*time.Hour, nil, testMetrics())

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	require.Equal(t, 72*time.Hour, store.retention)

	task, err := NewIdempotencyCleanupTask(6 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 6*time.Hour, store.retention)
}

type fakeInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthHandler(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(fakeInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault: {Queue: QueueDefault, Pending: 3, Failed: 1},
	}}, nil).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var queues []QueueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &queues))
	require.Equal(t, []QueueHealth{
		{Queue: QueueDefault, Pending: 3, Failed: 1},
		{Queue: QueueAlerts},
	}, queues)

	r = chi.NewRouter()
	r.Route("/jobs", NewHandler(fakeInspector{err: errors.New("redis down")}, nil).MountRoutes)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
