package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retailops/stockledger/internal/platform/db"
	"github.com/retailops/stockledger/internal/shared"
)

// Reader exposes the read queries used by service.
type Reader interface {
	GetProduct(ctx context.Context, productID int64) (ProductInventory, error)
	ListBatches(ctx context.Context, productID int64) ([]Batch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListProductIDs(ctx context.Context) ([]int64, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// LockProduct creates the product row from defaults when missing and
	// locks it for the rest of the transaction.
	LockProduct(ctx context.Context, productID int64, defaults ProductInventory) (ProductInventory, error)
	ListBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	UpdateBatchQuantity(ctx context.Context, batchID, quantity int64) error
	UpdateStock(ctx context.Context, productID, onHand int64, lastUnitCost decimal.Decimal, at time.Time) error
	UpdateSettings(ctx context.Context, record ProductInventory) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	ClaimRequest(ctx context.Context, requestID string) error
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	reader
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, reader: reader{q: pool}}
}

type reader struct {
	q querier
}

type txRepository struct {
	reader
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Callers
// serialise on the product row through LockProduct.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{reader: reader{q: tx}, tx: tx})
	})
}

// WithSnapshot runs fn against a read-only repeatable-read snapshot.
func (r *Repository) WithSnapshot(ctx context.Context, fn func(context.Context, Reader) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.Snapshot, func(tx pgx.Tx) error {
		return fn(ctx, reader{q: tx})
	})
}

const productColumns = `product_id, on_hand, reorder_level, optimal_level, warehouse_zone, bin_location, costing_method, last_unit_cost, updated_at`

const batchColumns = `id, product_id, batch_number, quantity, cost_per_unit, received_at, manufactured_at, expires_at, supplier_id, notes, created_at`

func (r reader) GetProduct(ctx context.Context, productID int64) (ProductInventory, error) {
	row := r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM inventory_products WHERE product_id=$1`, productID)
	return scanProduct(row)
}

func (r reader) ListBatches(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.q.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE product_id=$1 ORDER BY received_at ASC, id ASC`, productID)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r reader) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	order := "DESC"
	if filter.Ascending {
		order = "ASC"
	}
	rows, err := r.q.Query(ctx, fmt.Sprintf(`SELECT id, product_id, batch_id, delta, qty_before, qty_after, movement_type, reason, unit_cost, actor_id, COALESCE(request_id, ''), created_at
FROM inventory_movements
WHERE product_id=$1 AND ($2::bigint = 0 OR batch_id=$2)
ORDER BY created_at %[1]s, id %[1]s
LIMIT $3 OFFSET $4`, order), filter.ProductID, filter.BatchID, filter.Limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Movement{}
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, m)
	}
	return entries, rows.Err()
}

func (r reader) ListProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT product_id FROM inventory_products ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *txRepository) LockProduct(ctx context.Context, productID int64, defaults ProductInventory) (ProductInventory, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO inventory_products (product_id, on_hand, reorder_level, optimal_level, warehouse_zone, bin_location, costing_method, last_unit_cost, updated_at)
VALUES ($1, 0, $2, $3, $4, $5, $6, $7, NOW())
ON CONFLICT (product_id) DO NOTHING`, productID, defaults.ReorderLevel, defaults.OptimalLevel, defaults.WarehouseZone, defaults.BinLocation, string(defaults.CostingMethod), defaults.LastUnitCost); err != nil {
		return ProductInventory{}, err
	}
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM inventory_products WHERE product_id=$1 FOR UPDATE`, productID)
	return scanProduct(row)
}

func (r *txRepository) ListBatchesForUpdate(ctx context.Context, productID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM inventory_batches WHERE product_id=$1 ORDER BY received_at ASC, id ASC FOR UPDATE`, productID)
	if err != nil {
		return nil, err
	}
	return collectBatches(rows)
}

func (r *txRepository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_batches (product_id, batch_number, quantity, cost_per_unit, received_at, manufactured_at, expires_at, supplier_id, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10) RETURNING id`,
		b.ProductID, b.BatchNumber, b.Quantity, b.CostPerUnit, b.ReceivedAt, b.ManufacturedAt, b.ExpiresAt, b.SupplierID, b.Notes, b.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBatchQuantity(ctx context.Context, batchID, quantity int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_batches SET quantity=$2, updated_at=NOW() WHERE id=$1`, batchID, quantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: batch %d", ErrNotFound, batchID)
	}
	return nil
}

func (r *txRepository) UpdateStock(ctx context.Context, productID, onHand int64, lastUnitCost decimal.Decimal, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_products SET on_hand=$2, last_unit_cost=$3, updated_at=$4 WHERE product_id=$1`, productID, onHand, lastUnitCost, at)
	return err
}

func (r *txRepository) UpdateSettings(ctx context.Context, p ProductInventory) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_products
SET reorder_level=$2, optimal_level=$3, warehouse_zone=$4, bin_location=$5, costing_method=$6, updated_at=$7
WHERE product_id=$1`, p.ProductID, p.ReorderLevel, p.OptimalLevel, p.WarehouseZone, p.BinLocation, string(p.CostingMethod), p.UpdatedAt)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_movements (product_id, batch_id, delta, qty_before, qty_after, movement_type, reason, unit_cost, actor_id, request_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		m.ProductID, m.BatchID, m.Delta, m.QuantityBefore, m.QuantityAfter, string(m.Type), m.Reason, m.UnitCost, nullInt(m.ActorID), nullString(m.RequestID), m.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) ClaimRequest(ctx context.Context, requestID string) error {
	err := shared.ClaimKey(ctx, r.tx, requestID, "inventory")
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, requestID)
	}
	return err
}

func scanProduct(row pgx.Row) (ProductInventory, error) {
	var p ProductInventory
	err := row.Scan(&p.ProductID, &p.OnHand, &p.ReorderLevel, &p.OptimalLevel, &p.WarehouseZone, &p.BinLocation, &p.CostingMethod, &p.LastUnitCost, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductInventory{}, ErrNotFound
		}
		return ProductInventory{}, err
	}
	return p, nil
}

// scanMovement reads one movement row. System and anonymous movements carry
// a NULL actor_id, reported as zero.
func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var actorID *int64
	if err := row.Scan(&m.ID, &m.ProductID, &m.BatchID, &m.Delta, &m.QuantityBefore, &m.QuantityAfter, &m.Type, &m.Reason, &m.UnitCost, &actorID, &m.RequestID, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	if actorID != nil {
		m.ActorID = *actorID
	}
	return m, nil
}

func collectBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.ProductID, &b.BatchNumber, &b.Quantity, &b.CostPerUnit, &b.ReceivedAt, &b.ManufacturedAt, &b.ExpiresAt, &b.SupplierID, &b.Notes, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
