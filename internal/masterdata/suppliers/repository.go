package suppliers

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads suppliers owned by master data.
type Repository interface {
	ListActive(ctx context.Context) ([]Supplier, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository builds a PostgreSQL backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) ListActive(ctx context.Context) ([]Supplier, error) {
	rows, err := r.db.Query(ctx, `SELECT id, code, name FROM suppliers WHERE is_active ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Supplier])
}
