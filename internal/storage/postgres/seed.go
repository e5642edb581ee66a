package postgres

import (
	"context"
	"fmt"

	"github.com/campeche/checkout/internal/domain/catalog"
)

const (
	upsertUserSQL = `INSERT INTO users (username, email) VALUES ($1, $2)
		ON CONFLICT (username) DO UPDATE SET email = EXCLUDED.email
		RETURNING id`

	insertProductSQL = `INSERT INTO products (seller_id, name, price, stock)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	upsertCartSQL = `INSERT INTO carts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id`

	upsertCartItemSQL = `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`
)

// UpsertUser creates the user or updates its email and returns its id.
func (q *queries) UpsertUser(ctx context.Context, username, email string) (int64, error) {
	var id int64
	if err := q.db.QueryRow(ctx, upsertUserSQL, username, email).Scan(&id); err != nil {
		return 0, fmt.Errorf("upserting user %q: %w", username, err)
	}
	return id, nil
}

// CreateProduct inserts p and fills its ID.
func (q *queries) CreateProduct(ctx context.Context, p *catalog.Product) error {
	if err := q.db.QueryRow(ctx, insertProductSQL, p.SellerID, p.Name, p.Price, p.Stock).Scan(&p.ID); err != nil {
		return fmt.Errorf("creating product %q: %w", p.Name, err)
	}
	return nil
}

// PutCartItem sets the quantity of a product in the user's cart, creating
// the cart on first use.
func (q *queries) PutCartItem(ctx context.Context, userID, productID int64, qty int) error {
	var cartID int64
	if err := q.db.QueryRow(ctx, upsertCartSQL, userID).Scan(&cartID); err != nil {
		return fmt.Errorf("opening cart of user %d: %w", userID, err)
	}
	if _, err := q.db.Exec(ctx, upsertCartItemSQL, cartID, productID, qty); err != nil {
		return fmt.Errorf("adding product %d to cart of user %d: %w", productID, userID, err)
	}
	return nil
}
