package inventory

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"
)

// costScale is the number of decimal places kept for unit costs.
const costScale = 4

// Valuate computes quantity, weighted average cost and total value over the
// active batches. FIFO, LIFO and AVERAGE share the same snapshot; the method
// only changes which batches a consumption depletes. With no active batches
// the fallback cost is reported as the average.
func Valuate(batches []Batch, fallbackCost decimal.Decimal) Valuation {
	var qty int64
	total := decimal.Zero
	for _, b := range batches {
		if !b.Active() {
			continue
		}
		qty += b.Quantity
		total = total.Add(b.Value())
	}
	if qty == 0 {
		return Valuation{AverageCost: fallbackCost, TotalValue: decimal.Zero}
	}
	return Valuation{
		TotalQuantity: qty,
		AverageCost:   total.DivRound(decimal.NewFromInt(qty), costScale),
		TotalValue:    total,
	}
}

// ActiveBatches returns batches with remaining stock, oldest received first.
func ActiveBatches(batches []Batch) []Batch {
	active := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Active() {
			active = append(active, b)
		}
	}
	sortOldestFirst(active)
	return active
}

// PlanConsumption resolves which batches absorb a decrease of qty units.
// FIFO (and AVERAGE) draw oldest received first, LIFO newest first. Batches
// received at the same instant are consumed lower id first in both orders.
func PlanConsumption(productID int64, batches []Batch, method CostingMethod, qty int64) ([]ConsumptionStep, error) {
	if qty <= 0 {
		return nil, newValidationError("quantity", "must be greater than zero")
	}
	candidates := ActiveBatches(batches)
	var available int64
	for _, b := range candidates {
		available += b.Quantity
	}
	if available < qty {
		return nil, &InsufficientStockError{ProductID: productID, Requested: qty, Available: available}
	}
	if method == CostingLIFO {
		slices.SortStableFunc(candidates, func(a, b Batch) int {
			if c := b.ReceivedAt.Compare(a.ReceivedAt); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		})
	}

	plan := make([]ConsumptionStep, 0, len(candidates))
	remaining := qty
	for _, b := range candidates {
		if remaining == 0 {
			break
		}
		take := min(remaining, b.Quantity)
		plan = append(plan, ConsumptionStep{BatchID: b.ID, Quantity: take, UnitCost: b.CostPerUnit})
		remaining -= take
	}
	return plan, nil
}

// ConsumptionCost totals the cost of goods drawn by a plan.
func ConsumptionCost(plan []ConsumptionStep) decimal.Decimal {
	total := decimal.Zero
	for _, step := range plan {
		total = total.Add(step.UnitCost.Mul(decimal.NewFromInt(step.Quantity)))
	}
	return total
}

// OnHand sums remaining quantity over all batches.
func OnHand(batches []Batch) int64 {
	var qty int64
	for _, b := range batches {
		qty += b.Quantity
	}
	return qty
}

func sortOldestFirst(batches []Batch) {
	slices.SortStableFunc(batches, func(a, b Batch) int {
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
