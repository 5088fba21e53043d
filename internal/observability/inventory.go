package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/retailops/stockledger/internal/inventory"
)

// InventoryMetrics records stock mutations and the gauges refreshed by the
// revaluation and expiry jobs.
type InventoryMetrics struct {
	movements       *prometheus.CounterVec
	consumedBatches prometheus.Histogram
	onHand          *prometheus.GaugeVec
	stockValue      *prometheus.GaugeVec
	expiringBatches *prometheus.GaugeVec
}

var _ inventory.MetricsRecorder = (*InventoryMetrics)(nil)

// NewInventoryMetrics registers inventory collectors on registerer.
func NewInventoryMetrics(registerer prometheus.Registerer) *InventoryMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &InventoryMetrics{
		movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockledger_inventory_movements_total",
			Help: "Stock mutations by movement type and outcome.",
		}, []string{"type", "outcome"}),
		consumedBatches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockledger_inventory_consumed_batches",
			Help:    "Batches touched by a single successful adjustment.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		onHand: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockledger_inventory_on_hand",
			Help: "On-hand units per product at the last revaluation.",
		}, []string{"product"}),
		stockValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockledger_inventory_value",
			Help: "Stock value per product at the last revaluation.",
		}, []string{"product"}),
		expiringBatches: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stockledger_inventory_expiring_batches",
			Help: "Active batches per product by expiry state at the last scan.",
		}, []string{"product", "state"}),
	}
	registerer.MustRegister(m.movements, m.consumedBatches, m.onHand, m.stockValue, m.expiringBatches)
	return m
}

// ObserveMovement counts a mutation attempt.
func (m *InventoryMetrics) ObserveMovement(kind inventory.MovementType, outcome string, batches int) {
	if m == nil {
		return
	}
	m.movements.WithLabelValues(string(kind), outcome).Inc()
	if outcome == "success" && batches > 0 {
		m.consumedBatches.Observe(float64(batches))
	}
}

// SetStock publishes the valuation of one product.
func (m *InventoryMetrics) SetStock(productID, onHand int64, value decimal.Decimal) {
	if m == nil {
		return
	}
	product := strconv.FormatInt(productID, 10)
	m.onHand.WithLabelValues(product).Set(float64(onHand))
	m.stockValue.WithLabelValues(product).Set(value.InexactFloat64())
}

// SetExpiring publishes expiring and expired batch counts of one product.
func (m *InventoryMetrics) SetExpiring(productID int64, expiring, expired int) {
	if m == nil {
		return
	}
	product := strconv.FormatInt(productID, 10)
	m.expiringBatches.WithLabelValues(product, string(inventory.ExpiryExpiringSoon)).Set(float64(expiring))
	m.expiringBatches.WithLabelValues(product, string(inventory.ExpiryExpired)).Set(float64(expired))
}
