package inventory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// memoryRepo is an in-memory RepositoryPort. Transactions run against a
// copy of the state that replaces the original only on success, and are
// serialised by a single mutex.
type memoryRepo struct {
	mu    sync.Mutex
	state *memoryState

	failMovement func(Movement) error
}

type memoryState struct {
	products  map[int64]ProductInventory
	batches   map[int64]Batch
	movements []Movement
	keys      map[string]bool
	nextBatch int64
	nextMove  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		products: map[int64]ProductInventory{},
		batches:  map[int64]Batch{},
		keys:     map[string]bool{},
	}}
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		products:  maps.Clone(s.products),
		batches:   maps.Clone(s.batches),
		movements: slices.Clone(s.movements),
		keys:      maps.Clone(s.keys),
		nextBatch: s.nextBatch,
		nextMove:  s.nextMove,
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	working := r.state.clone()
	if err := fn(ctx, &memoryTx{memoryReader: memoryReader{state: working}, repo: r}); err != nil {
		return err
	}
	r.state = working
	return nil
}

func (r *memoryRepo) WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	r.mu.Lock()
	snapshot := r.state.clone()
	r.mu.Unlock()
	return fn(ctx, memoryReader{state: snapshot})
}

func (r *memoryRepo) committed() memoryReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	return memoryReader{state: r.state.clone()}
}

func (r *memoryRepo) GetProduct(ctx context.Context, productID int64) (ProductInventory, error) {
	return r.committed().GetProduct(ctx, productID)
}

func (r *memoryRepo) ListBatches(ctx context.Context, productID int64) ([]Batch, error) {
	return r.committed().ListBatches(ctx, productID)
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return r.committed().ListMovements(ctx, filter)
}

func (r *memoryRepo) ListProductIDs(ctx context.Context) ([]int64, error) {
	return r.committed().ListProductIDs(ctx)
}

// mutate edits committed state directly, bypassing the service.
func (r *memoryRepo) mutate(fn func(*memoryState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.state)
}

type memoryReader struct {
	state *memoryState
}

func (m memoryReader) GetProduct(_ context.Context, productID int64) (ProductInventory, error) {
	p, ok := m.state.products[productID]
	if !ok {
		return ProductInventory{}, ErrNotFound
	}
	return p, nil
}

func (m memoryReader) ListBatches(_ context.Context, productID int64) ([]Batch, error) {
	out := []Batch{}
	for _, b := range m.state.batches {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	sortOldestFirst(out)
	return out, nil
}

func (m memoryReader) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	out := []Movement{}
	for _, mv := range m.state.movements {
		if mv.ProductID != filter.ProductID {
			continue
		}
		if filter.BatchID != 0 && (mv.BatchID == nil || *mv.BatchID != filter.BatchID) {
			continue
		}
		out = append(out, mv)
	}
	slices.SortFunc(out, func(a, b Movement) int {
		c := a.CreatedAt.Compare(b.CreatedAt)
		if c == 0 {
			c = cmp.Compare(a.ID, b.ID)
		}
		if !filter.Ascending {
			c = -c
		}
		return c
	})
	if filter.Offset >= len(out) {
		return []Movement{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m memoryReader) ListProductIDs(context.Context) ([]int64, error) {
	return slices.Sorted(maps.Keys(m.state.products)), nil
}

type memoryTx struct {
	memoryReader
	repo *memoryRepo
}

func (tx *memoryTx) LockProduct(_ context.Context, productID int64, defaults ProductInventory) (ProductInventory, error) {
	p, ok := tx.state.products[productID]
	if !ok {
		p = defaults
		p.ProductID = productID
		tx.state.products[productID] = p
	}
	return p, nil
}

func (tx *memoryTx) ListBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	return tx.ListBatches(ctx, productID)
}

func (tx *memoryTx) InsertBatch(_ context.Context, b Batch) (int64, error) {
	tx.state.nextBatch++
	b.ID = tx.state.nextBatch
	tx.state.batches[b.ID] = b
	return b.ID, nil
}

func (tx *memoryTx) UpdateBatchQuantity(_ context.Context, batchID, quantity int64) error {
	b, ok := tx.state.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	b.Quantity = quantity
	tx.state.batches[batchID] = b
	return nil
}

func (tx *memoryTx) UpdateStock(_ context.Context, productID, onHand int64, lastUnitCost decimal.Decimal, at time.Time) error {
	p := tx.state.products[productID]
	p.OnHand = onHand
	p.LastUnitCost = lastUnitCost
	p.UpdatedAt = at
	tx.state.products[productID] = p
	return nil
}

func (tx *memoryTx) UpdateSettings(_ context.Context, record ProductInventory) error {
	tx.state.products[record.ProductID] = record
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) (int64, error) {
	if tx.repo.failMovement != nil {
		if err := tx.repo.failMovement(m); err != nil {
			return 0, err
		}
	}
	tx.state.nextMove++
	m.ID = tx.state.nextMove
	tx.state.movements = append(tx.state.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) ClaimRequest(_ context.Context, requestID string) error {
	if tx.state.keys[requestID] {
		return ErrDuplicateRequest
	}
	tx.state.keys[requestID] = true
	return nil
}
