package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/campeche/checkout/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT p.id, p.name, p.price, p.stock, p.seller_id, u.username
		FROM products p JOIN users u ON u.id = p.seller_id
		WHERE p.id = $1`

	lockProductsSQL = `SELECT p.id, p.name, p.price, p.stock, p.seller_id, u.username
		FROM products p JOIN users u ON u.id = p.seller_id
		WHERE p.id = ANY($1)
		ORDER BY p.id
		FOR UPDATE OF p`

	decrementStockSQL = `UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2`
)

// GetByID returns a single product with its seller name.
func (q *queries) GetByID(ctx context.Context, id int64) (*catalog.Product, error) {
	rows, err := q.db.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %d: %w", id, err)
	}
	return &p, nil
}

// LockByIDs locks the product rows in id order so concurrent checkouts over
// overlapping products cannot deadlock.
func (q *queries) LockByIDs(ctx context.Context, ids []int64) ([]catalog.Product, error) {
	rows, err := q.db.Query(ctx, lockProductsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return products, nil
}

// DecrementStock subtracts qty from the product's stock unless that would
// make it negative.
func (q *queries) DecrementStock(ctx context.Context, id int64, qty int) error {
	tag, err := q.db.Exec(ctx, decrementStockSQL, id, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock of product %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrInsufficientStock
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.SellerID, &p.SellerName)
	return p, err
}
