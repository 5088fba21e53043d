package inventory

import (
	"context"
	"iter"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ledger appends movements inside the adjustment transaction. It checks each
// entry against the batch store it was produced from.
type ledger struct {
	tx    TxRepository
	store *batchStore
}

func (l *ledger) append(ctx context.Context, m Movement) (Movement, error) {
	if m.ProductID != l.store.productID {
		return Movement{}, invariantf("movement for product %d recorded against product %d", m.ProductID, l.store.productID)
	}
	if !m.Type.Valid() {
		return Movement{}, invariantf("unknown movement type %q", m.Type)
	}
	if m.Delta == 0 {
		return Movement{}, invariantf("zero delta movement")
	}
	if m.QuantityBefore+m.Delta != m.QuantityAfter {
		return Movement{}, invariantf("before %d + delta %d != after %d", m.QuantityBefore, m.Delta, m.QuantityAfter)
	}
	if m.QuantityBefore < 0 || m.QuantityAfter < 0 {
		return Movement{}, invariantf("negative quantity in movement (before %d, after %d)", m.QuantityBefore, m.QuantityAfter)
	}
	if m.BatchID != nil {
		batch, ok := l.store.get(*m.BatchID)
		if !ok {
			return Movement{}, invariantf("movement references unknown batch %d", *m.BatchID)
		}
		if batch.Quantity != m.QuantityAfter {
			return Movement{}, invariantf("batch %d holds %d but movement records %d", batch.ID, batch.Quantity, m.QuantityAfter)
		}
	}
	id, err := l.tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id
	return m, nil
}

// History returns a page of the product's ledger, newest first.
func (s *Service) History(ctx context.Context, productID int64, limit, offset int) ([]Movement, error) {
	if productID <= 0 {
		return nil, newValidationError("productId", "product is required")
	}
	filter := normaliseFilter(MovementFilter{ProductID: productID, Limit: limit, Offset: offset})
	entries, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, wrapStorage("list movements", err)
	}
	return entries, nil
}

// HistorySeq walks the complete ledger of a product oldest first, fetching
// pageSize entries at a time. Each range over the sequence starts again from
// the first entry. Iteration stops after the first error.
func (s *Service) HistorySeq(ctx context.Context, productID int64, pageSize int) iter.Seq2[Movement, error] {
	return movementSeq(ctx, s.repo, productID, pageSize)
}

func movementSeq(ctx context.Context, r Reader, productID int64, pageSize int) iter.Seq2[Movement, error] {
	if pageSize <= 0 || pageSize > maxHistoryLimit {
		pageSize = maxHistoryLimit
	}
	return func(yield func(Movement, error) bool) {
		offset := 0
		for {
			page, err := r.ListMovements(ctx, MovementFilter{ProductID: productID, Limit: pageSize, Offset: offset, Ascending: true})
			if err != nil {
				yield(Movement{}, wrapStorage("list movements", err))
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			offset += len(page)
		}
	}
}

func normaliseFilter(filter MovementFilter) MovementFilter {
	if filter.Limit <= 0 {
		filter.Limit = defaultHistoryLimit
	}
	if filter.Limit > maxHistoryLimit {
		filter.Limit = maxHistoryLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}
