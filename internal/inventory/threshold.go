package inventory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"
)

// StatusFor derives the threshold status from aggregate on-hand.
func StatusFor(p ProductInventory) StockStatus {
	switch {
	case p.OnHand <= 0:
		return StatusOutOfStock
	case p.OnHand <= p.ReorderLevel:
		return StatusLowStock
	default:
		return StatusNormal
	}
}

// ExpiryStateOf classifies a batch relative to now and a look-ahead window.
func ExpiryStateOf(b Batch, now time.Time, window time.Duration) ExpiryState {
	if b.ExpiresAt == nil {
		return ExpiryOK
	}
	switch {
	case b.ExpiresAt.Before(now):
		return ExpiryExpired
	case !b.ExpiresAt.After(now.Add(window)):
		return ExpiryExpiringSoon
	default:
		return ExpiryOK
	}
}

// Status recomputes the product's threshold status from current state.
func (s *Service) Status(ctx context.Context, productID int64) (StockStatus, error) {
	record, err := s.Inventory(ctx, productID)
	if err != nil {
		return "", err
	}
	return StatusFor(record), nil
}

// ExpiringBatches lists active batches expiring between now and now+withinDays,
// soonest first. Already expired batches are excluded.
func (s *Service) ExpiringBatches(ctx context.Context, productID int64, withinDays int) ([]Batch, error) {
	if withinDays <= 0 {
		withinDays = s.cfg.ExpiryWindowDays
	}
	batches, err := s.ListActiveBatches(ctx, productID)
	if err != nil {
		return nil, err
	}
	return FilterExpiring(batches, s.now(), days(withinDays)), nil
}

// ExpiredBatches lists active batches whose expiry date has passed.
func (s *Service) ExpiredBatches(ctx context.Context, productID int64) ([]Batch, error) {
	batches, err := s.ListActiveBatches(ctx, productID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	expired := make([]Batch, 0)
	for _, b := range batches {
		if ExpiryStateOf(b, now, 0) == ExpiryExpired {
			expired = append(expired, b)
		}
	}
	sortByExpiry(expired)
	return expired, nil
}

// FilterExpiring keeps active batches expiring within the window.
func FilterExpiring(batches []Batch, now time.Time, window time.Duration) []Batch {
	out := make([]Batch, 0)
	for _, b := range batches {
		if b.Active() && ExpiryStateOf(b, now, window) == ExpiryExpiringSoon {
			out = append(out, b)
		}
	}
	sortByExpiry(out)
	return out
}

// ReconciliationReport lists discrepancies between stock and ledger.
type ReconciliationReport struct {
	ProductID     int64    `json:"productId"`
	OnHand        int64    `json:"onHand"`
	BatchTotal    int64    `json:"batchTotal"`
	Movements     int      `json:"movements"`
	Discrepancies []string `json:"discrepancies"`
}

// Consistent reports whether no discrepancy was found.
func (r ReconciliationReport) Consistent() bool {
	return len(r.Discrepancies) == 0
}

// Reconcile replays the ledger against current batch quantities. It checks
// that on-hand equals the batch total, that each entry's arithmetic holds,
// that consecutive entries of a batch chain before/after, and that each
// batch's last recorded quantity is its current quantity.
func (s *Service) Reconcile(ctx context.Context, productID int64) (ReconciliationReport, error) {
	report := ReconciliationReport{ProductID: productID, Discrepancies: []string{}}
	err := s.repo.WithSnapshot(ctx, func(ctx context.Context, r Reader) error {
		record, batches, err := s.readState(ctx, r, productID)
		if err != nil {
			return err
		}
		report.OnHand = record.OnHand
		report.BatchTotal = OnHand(batches)
		if len(batches) > 0 && report.OnHand != report.BatchTotal {
			report.addf("on-hand %d differs from batch total %d", report.OnHand, report.BatchTotal)
		}

		last := make(map[int64]int64, len(batches))
		for m, err := range movementSeq(ctx, r, productID, 0) {
			if err != nil {
				return err
			}
			report.Movements++
			if m.QuantityBefore+m.Delta != m.QuantityAfter {
				report.addf("movement %d: %d%+d != %d", m.ID, m.QuantityBefore, m.Delta, m.QuantityAfter)
			}
			if m.BatchID == nil {
				continue
			}
			if prev := last[*m.BatchID]; prev != m.QuantityBefore {
				report.addf("movement %d: batch %d expected before %d, got %d", m.ID, *m.BatchID, prev, m.QuantityBefore)
			}
			last[*m.BatchID] = m.QuantityAfter
		}
		for _, b := range batches {
			recorded, ok := last[b.ID]
			if !ok {
				report.addf("batch %d has no ledger entries", b.ID)
				continue
			}
			if recorded != b.Quantity {
				report.addf("batch %d holds %d, ledger ends at %d", b.ID, b.Quantity, recorded)
			}
		}
		return nil
	})
	if err != nil {
		return ReconciliationReport{}, wrapStorage("reconcile", err)
	}
	return report, nil
}

func (r *ReconciliationReport) addf(format string, args ...any) {
	r.Discrepancies = append(r.Discrepancies, fmt.Sprintf(format, args...))
}

func sortByExpiry(batches []Batch) {
	slices.SortStableFunc(batches, func(a, b Batch) int {
		if c := a.ExpiresAt.Compare(*b.ExpiresAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
