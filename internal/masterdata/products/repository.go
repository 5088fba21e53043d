package products

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/retailops/stockledger/internal/inventory"
)

// Repository loads catalog display fields.
type Repository interface {
	Get(ctx context.Context, productID int64) (inventory.ProductInfo, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds a PostgreSQL backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) Get(ctx context.Context, productID int64) (inventory.ProductInfo, error) {
	var (
		info  inventory.ProductInfo
		price decimal.Decimal
	)
	err := r.db.QueryRow(ctx, `SELECT p.id, p.sku, p.name, COALESCE(c.name, ''), p.price
FROM products p
LEFT JOIN categories c ON c.id = p.category_id
WHERE p.id = $1`, productID).Scan(&info.ID, &info.SKU, &info.Name, &info.Category, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.ProductInfo{}, inventory.ErrNotFound
	}
	if err != nil {
		return inventory.ProductInfo{}, err
	}
	info.SellPrice = price
	return info, nil
}
