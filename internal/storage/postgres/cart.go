package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campeche/checkout/internal/domain/invoice"
)

const (
	cartItemsSQL = `SELECT ci.product_id, ci.quantity
		FROM cart_items ci JOIN carts c ON c.id = ci.cart_id
		WHERE c.user_id = $1
		ORDER BY ci.id`

	clearCartSQL = `DELETE FROM cart_items
		WHERE cart_id = (SELECT id FROM carts WHERE user_id = $1)`
)

// CartItems returns the user's cart in insertion order.
func (q *queries) CartItems(ctx context.Context, userID int64) ([]invoice.ItemRequest, error) {
	rows, err := q.db.Query(ctx, cartItemsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("reading cart of user %d: %w", userID, err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (invoice.ItemRequest, error) {
		var it invoice.ItemRequest
		err := row.Scan(&it.ProductID, &it.Quantity)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("reading cart of user %d: %w", userID, err)
	}
	if len(items) == 0 {
		return nil, invoice.ErrCartEmpty
	}
	return items, nil
}

// ClearCart removes every item from the user's cart. The cart row is kept.
func (q *queries) ClearCart(ctx context.Context, userID int64) error {
	if _, err := q.db.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of user %d: %w", userID, err)
	}
	return nil
}
