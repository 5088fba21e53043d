package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostingMethod selects how consumption draws from batches.
type CostingMethod string

const (
	// CostingFIFO depletes the oldest batches first.
	CostingFIFO CostingMethod = "FIFO"
	// CostingLIFO depletes the newest batches first.
	CostingLIFO CostingMethod = "LIFO"
	// CostingAverage values stock at the weighted average cost.
	CostingAverage CostingMethod = "AVERAGE"
)

// DefaultCostingMethod is assigned to newly tracked products.
const DefaultCostingMethod = CostingFIFO

// Valid reports whether the method is supported.
func (m CostingMethod) Valid() bool {
	switch m {
	case CostingFIFO, CostingLIFO, CostingAverage:
		return true
	}
	return false
}

// MovementType enumerates ledger entry kinds.
type MovementType string

const (
	MovementReceipt    MovementType = "RECEIPT"
	MovementSale       MovementType = "SALE"
	MovementAdjustment MovementType = "ADJUSTMENT"
	MovementReturn     MovementType = "RETURN"
	MovementCorrection MovementType = "CORRECTION"
)

// Valid reports whether the movement type is known.
func (t MovementType) Valid() bool {
	switch t {
	case MovementReceipt, MovementSale, MovementAdjustment, MovementReturn, MovementCorrection:
		return true
	}
	return false
}

// StockStatus is the derived threshold state of a product.
type StockStatus string

const (
	StatusNormal     StockStatus = "NORMAL"
	StatusLowStock   StockStatus = "LOW_STOCK"
	StatusOutOfStock StockStatus = "OUT_OF_STOCK"
)

// ExpiryState classifies a batch against its expiry date.
type ExpiryState string

const (
	ExpiryOK           ExpiryState = "OK"
	ExpiryExpiringSoon ExpiryState = "EXPIRING_SOON"
	ExpiryExpired      ExpiryState = "EXPIRED"
)

// ProductInventory is the per-product settings and aggregate stock row.
type ProductInventory struct {
	ProductID     int64           `json:"productId"`
	OnHand        int64           `json:"onHand"`
	ReorderLevel  int64           `json:"reorderLevel"`
	OptimalLevel  int64           `json:"optimalLevel"`
	WarehouseZone string          `json:"warehouseZone"`
	BinLocation   string          `json:"binLocation"`
	CostingMethod CostingMethod   `json:"inventoryValueMethod"`
	LastUnitCost  decimal.Decimal `json:"lastUnitCost"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Batch is one physical receipt of stock.
type Batch struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"productId"`
	BatchNumber    string          `json:"batchNumber"`
	Quantity       int64           `json:"quantity"`
	CostPerUnit    decimal.Decimal `json:"costPerUnit"`
	ReceivedAt     time.Time       `json:"receivedAt"`
	ManufacturedAt *time.Time      `json:"manufacturedDate,omitempty"`
	ExpiresAt      *time.Time      `json:"expiryDate,omitempty"`
	SupplierID     *int64          `json:"supplierId,omitempty"`
	Notes          string          `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Active reports whether the batch still holds stock.
func (b Batch) Active() bool {
	return b.Quantity > 0
}

// Value returns quantity times unit cost.
func (b Batch) Value() decimal.Decimal {
	return b.CostPerUnit.Mul(decimal.NewFromInt(b.Quantity))
}

// Movement is an immutable ledger entry.
type Movement struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"productId"`
	BatchID        *int64          `json:"batchId,omitempty"`
	Delta          int64           `json:"quantityDelta"`
	QuantityBefore int64           `json:"quantityBefore"`
	QuantityAfter  int64           `json:"quantityAfter"`
	Type           MovementType    `json:"type"`
	Reason         string          `json:"reason"`
	UnitCost       decimal.Decimal `json:"unitCost"`
	ActorID        int64           `json:"actorId"`
	RequestID      string          `json:"requestId,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Valuation is the instantaneous monetary snapshot of a product.
type Valuation struct {
	TotalQuantity int64           `json:"totalQuantity"`
	AverageCost   decimal.Decimal `json:"averageCost"`
	TotalValue    decimal.Decimal `json:"totalValue"`
}

// ConsumptionStep is one batch draw within a consumption plan.
type ConsumptionStep struct {
	BatchID  int64           `json:"batchId"`
	Quantity int64           `json:"quantity"`
	UnitCost decimal.Decimal `json:"unitCost"`
}

// ReceiveBatchInput describes a new batch receipt.
type ReceiveBatchInput struct {
	ProductID      int64
	BatchNumber    string
	Quantity       int64
	CostPerUnit    decimal.Decimal
	ReceivedAt     time.Time
	ManufacturedAt *time.Time
	ExpiresAt      *time.Time
	SupplierID     *int64
	Notes          string
	ActorID        int64
	RequestID      string
}

// ReceiptResult is returned after a receipt commits.
type ReceiptResult struct {
	Batch    Batch    `json:"batch"`
	OnHand   int64    `json:"onHand"`
	Movement Movement `json:"movement"`
}

// AdjustmentInput describes a quantity change request.
type AdjustmentInput struct {
	ProductID int64
	BatchID   *int64
	Delta     int64
	Type      MovementType
	Reason    string
	ActorID   int64
	RequestID string
}

// AdjustmentResult is returned after an adjustment commits.
type AdjustmentResult struct {
	ProductID   int64             `json:"productId"`
	OnHand      int64             `json:"onHand"`
	Plan        []ConsumptionStep `json:"plan"`
	Movements   []Movement        `json:"movements"`
	CostOfGoods decimal.Decimal   `json:"costOfGoods"`
	Status      StockStatus       `json:"status"`
}

// SettingsPatch carries partial settings updates; nil fields are untouched.
type SettingsPatch struct {
	ReorderLevel  *int64
	OptimalLevel  *int64
	WarehouseZone *string
	BinLocation   *string
	CostingMethod *CostingMethod
	ActorID       int64
}

// MovementFilter pages ledger history.
type MovementFilter struct {
	ProductID int64
	BatchID   int64
	Limit     int
	Offset    int
	Ascending bool
}

// ProductView aggregates everything the batch screen shows for a product.
type ProductView struct {
	Inventory ProductInventory `json:"inventory"`
	Product   *ProductInfo     `json:"product,omitempty"`
	Batches   []BatchView      `json:"batches"`
	History   []Movement       `json:"history"`
	Valuation Valuation        `json:"valuation"`
	Status    StockStatus      `json:"status"`
}

// BatchView decorates a batch with its expiry state.
type BatchView struct {
	Batch
	Expiry     ExpiryState     `json:"expiryState"`
	TotalValue decimal.Decimal `json:"totalValue"`
}

// ProductInfo holds catalog display fields; never used for valuation.
type ProductInfo struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	SellPrice decimal.Decimal `json:"sellPrice"`
}

// StockChangedEvent is published after a committed mutation.
type StockChangedEvent struct {
	ProductID      int64        `json:"productId"`
	OnHand         int64        `json:"onHand"`
	PreviousStatus StockStatus  `json:"previousStatus"`
	Status         StockStatus  `json:"status"`
	MovementType   MovementType `json:"movementType"`
	Delta          int64        `json:"delta"`
	ReorderLevel   int64        `json:"reorderLevel"`
	OccurredAt     time.Time    `json:"occurredAt"`
}
