package inventory

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// maxBatchNumberLen mirrors the inventory_batches.batch_number column.
const maxBatchNumberLen = 64

// maxQuantity bounds a single receipt or adjustment.
const maxQuantity int64 = 1_000_000_000

// batchStore is the in-transaction view of one product's batches. It is
// loaded under the product lock and writes every change through tx.
type batchStore struct {
	tx        TxRepository
	productID int64
	batches   []Batch
	index     map[int64]int
}

func loadBatchStore(ctx context.Context, tx TxRepository, productID int64) (*batchStore, error) {
	batches, err := tx.ListBatchesForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}
	sortOldestFirst(batches)
	store := &batchStore{tx: tx, productID: productID, batches: batches, index: make(map[int64]int, len(batches))}
	for i, b := range batches {
		store.index[b.ID] = i
	}
	return store, nil
}

func (s *batchStore) all() []Batch {
	out := make([]Batch, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *batchStore) get(batchID int64) (Batch, bool) {
	i, ok := s.index[batchID]
	if !ok {
		return Batch{}, false
	}
	return s.batches[i], true
}

func (s *batchStore) onHand() int64 {
	return OnHand(s.batches)
}

// create validates and persists a new batch.
func (s *batchStore) create(ctx context.Context, input ReceiveBatchInput, now time.Time) (Batch, error) {
	if err := validateReceipt(input); err != nil {
		return Batch{}, err
	}
	if input.Quantity > math.MaxInt64-s.onHand() {
		return Batch{}, newValidationError("quantity", "on-hand quantity would overflow")
	}
	received := input.ReceivedAt
	if received.IsZero() {
		received = now
	}
	batch := Batch{
		ProductID:      s.productID,
		BatchNumber:    strings.TrimSpace(input.BatchNumber),
		Quantity:       input.Quantity,
		CostPerUnit:    input.CostPerUnit,
		ReceivedAt:     received.UTC(),
		ManufacturedAt: input.ManufacturedAt,
		ExpiresAt:      input.ExpiresAt,
		SupplierID:     input.SupplierID,
		Notes:          strings.TrimSpace(input.Notes),
		CreatedAt:      now,
	}
	id, err := s.tx.InsertBatch(ctx, batch)
	if err != nil {
		return Batch{}, err
	}
	batch.ID = id
	s.index[id] = len(s.batches)
	s.batches = append(s.batches, batch)
	return batch, nil
}

// reduce takes amount units out of a batch.
func (s *batchStore) reduce(ctx context.Context, batchID, amount int64) (before, after int64, err error) {
	i, ok := s.index[batchID]
	if !ok {
		return 0, 0, ErrNotFound
	}
	before = s.batches[i].Quantity
	if amount > before {
		return before, before, &InsufficientQuantityError{BatchID: batchID, Requested: amount, Available: before}
	}
	after = before - amount
	if err := s.tx.UpdateBatchQuantity(ctx, batchID, after); err != nil {
		return before, before, err
	}
	s.batches[i].Quantity = after
	return before, after, nil
}

// increase adds amount units back into an existing batch.
func (s *batchStore) increase(ctx context.Context, batchID, amount int64) (before, after int64, err error) {
	i, ok := s.index[batchID]
	if !ok {
		return 0, 0, ErrNotFound
	}
	before = s.batches[i].Quantity
	if amount > math.MaxInt64-s.onHand() {
		return before, before, newValidationError("quantityChange", "on-hand quantity would overflow")
	}
	after = before + amount
	if err := s.tx.UpdateBatchQuantity(ctx, batchID, after); err != nil {
		return before, before, err
	}
	s.batches[i].Quantity = after
	return before, after, nil
}

func validateReceipt(input ReceiveBatchInput) error {
	verr := &ValidationError{}
	if input.ProductID <= 0 {
		verr.add("productId", "product is required")
	}
	number := strings.TrimSpace(input.BatchNumber)
	switch {
	case number == "":
		verr.add("batchNumber", "batch number is required")
	case len(number) > maxBatchNumberLen:
		verr.add("batchNumber", "batch number is too long")
	}
	if input.Quantity <= 0 {
		verr.add("quantity", "must be greater than zero")
	} else if input.Quantity > maxQuantity {
		verr.add("quantity", "must not exceed 1000000000")
	}
	if !input.CostPerUnit.GreaterThan(decimal.Zero) {
		verr.add("costPerUnit", "must be greater than zero")
	}
	if input.ManufacturedAt != nil && input.ExpiresAt != nil && input.ManufacturedAt.After(*input.ExpiresAt) {
		verr.add("manufacturedDate", "must not be after expiry date")
	}
	if input.SupplierID != nil && *input.SupplierID <= 0 {
		verr.add("supplierId", "invalid supplier")
	}
	if verr.empty() {
		return nil
	}
	return verr
}
