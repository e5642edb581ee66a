package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/campeche/checkout/internal/domain/coupon"
)

const (
	offerColumns = `id, seller_id, product_id, title, description, percentage, active,
		start_date, end_date, created_at`

	couponColumns = `id, seller_id, product_id, code, percentage, min_purchase, active,
		start_date, end_date, created_at`

	offersForProductSQL = `SELECT ` + offerColumns + ` FROM offers WHERE product_id = $1 ORDER BY id`

	getOfferSQL = `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	insertOfferSQL = `INSERT INTO offers
		(seller_id, product_id, title, description, percentage, active, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	setOfferActiveSQL = `UPDATE offers SET active = $2 WHERE id = $1`

	couponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	couponsForProductSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE product_id = $1 ORDER BY id`

	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`

	insertCouponSQL = `INSERT INTO coupons
		(seller_id, product_id, code, percentage, min_purchase, active, start_date, end_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	setCouponActiveSQL = `UPDATE coupons SET active = $2 WHERE id = $1`

	codeExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	listCodesSQL = `SELECT code FROM coupons`

	unusedGrantSQL = `SELECT id, user_id, coupon_id, product_id, seller_id, used, assigned_at
		FROM user_coupons
		WHERE user_id = $1 AND coupon_id = $2 AND used = FALSE
		ORDER BY id LIMIT 1`

	redeemGrantSQL = `UPDATE user_coupons SET used = TRUE WHERE id = $1 AND used = FALSE`

	grantOnceSQL = `INSERT INTO user_coupons (user_id, coupon_id, product_id, seller_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id, seller_id) DO NOTHING
		RETURNING id, assigned_at`
)

const uniqueViolation = "23505"

// OffersForProduct returns every offer of the product ordered by id.
func (q *queries) OffersForProduct(ctx context.Context, productID int64) ([]coupon.Offer, error) {
	rows, err := q.db.Query(ctx, offersForProductSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing offers of product %d: %w", productID, err)
	}
	offers, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, fmt.Errorf("listing offers of product %d: %w", productID, err)
	}
	return offers, nil
}

// CouponByCode looks up a coupon by its exact code.
// Returns coupon.ErrInvalidCoupon when no coupon has that code.
func (q *queries) CouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := q.db.Query(ctx, couponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &c, nil
}

// UnusedGrant returns the user's unused grant for the coupon.
func (q *queries) UnusedGrant(ctx context.Context, userID, couponID int64) (*coupon.Grant, error) {
	rows, err := q.db.Query(ctx, unusedGrantSQL, userID, couponID)
	if err != nil {
		return nil, fmt.Errorf("finding grant of coupon %d: %w", couponID, err)
	}

	g, err := pgx.CollectExactlyOneRow(rows, scanGrant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrCouponNotAssigned
		}
		return nil, fmt.Errorf("finding grant of coupon %d: %w", couponID, err)
	}
	return &g, nil
}

// RedeemGrant marks the grant used. Losing the race to another transaction
// yields coupon.ErrCouponNotAssigned.
func (q *queries) RedeemGrant(ctx context.Context, grantID int64) error {
	tag, err := q.db.Exec(ctx, redeemGrantSQL, grantID)
	if err != nil {
		return fmt.Errorf("redeeming grant %d: %w", grantID, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrCouponNotAssigned
	}
	return nil
}

// CouponsForProduct returns every coupon of the product ordered by id.
func (q *queries) CouponsForProduct(ctx context.Context, productID int64) ([]coupon.Coupon, error) {
	rows, err := q.db.Query(ctx, couponsForProductSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of product %d: %w", productID, err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of product %d: %w", productID, err)
	}
	return coupons, nil
}

// GrantOnce inserts the grant unless the user already holds one for the same
// product and seller.
func (q *queries) GrantOnce(ctx context.Context, g *coupon.Grant) (bool, error) {
	err := q.db.QueryRow(ctx, grantOnceSQL, g.UserID, g.CouponID, g.ProductID, g.SellerID).
		Scan(&g.ID, &g.AssignedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("granting coupon %d to user %d: %w", g.CouponID, g.UserID, err)
	}
	return true, nil
}

func (q *queries) CreateOffer(ctx context.Context, o *coupon.Offer) error {
	err := q.db.QueryRow(ctx, insertOfferSQL,
		o.SellerID, o.ProductID, o.Title, o.Description, o.Percentage, o.Active,
		o.Window.Start, o.Window.End,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating offer for product %d: %w", o.ProductID, err)
	}
	return nil
}

func (q *queries) GetOffer(ctx context.Context, id int64) (*coupon.Offer, error) {
	rows, err := q.db.Query(ctx, getOfferSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting offer %d: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting offer %d: %w", id, err)
	}
	return &o, nil
}

func (q *queries) SetOfferActive(ctx context.Context, id int64, active bool) error {
	tag, err := q.db.Exec(ctx, setOfferActiveSQL, id, active)
	if err != nil {
		return fmt.Errorf("updating offer %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

// CreateCoupon inserts the coupon. A code collision surfaces as
// coupon.ErrCodeTaken so the caller can retry with a fresh code.
func (q *queries) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	err := q.db.QueryRow(ctx, insertCouponSQL,
		c.SellerID, c.ProductID, c.Code, c.Percentage, c.MinPurchase, c.Active,
		c.Window.Start, c.Window.End,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return coupon.ErrCodeTaken
		}
		return fmt.Errorf("creating coupon %q: %w", c.Code, err)
	}
	return nil
}

func (q *queries) GetCoupon(ctx context.Context, id int64) (*coupon.Coupon, error) {
	rows, err := q.db.Query(ctx, getCouponSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %d: %w", id, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %d: %w", id, err)
	}
	return &c, nil
}

func (q *queries) SetCouponActive(ctx context.Context, id int64, active bool) error {
	tag, err := q.db.Exec(ctx, setCouponActiveSQL, id, active)
	if err != nil {
		return fmt.Errorf("updating coupon %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (q *queries) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := q.db.QueryRow(ctx, codeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking coupon code %q: %w", code, err)
	}
	return exists, nil
}

// Codes returns every coupon code, used to warm the code generator's filter.
func (q *queries) Codes(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, listCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupon codes: %w", err)
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("listing coupon codes: %w", err)
	}
	return codes, nil
}

func scanOffer(row pgx.CollectableRow) (coupon.Offer, error) {
	var o coupon.Offer
	err := row.Scan(
		&o.ID, &o.SellerID, &o.ProductID, &o.Title, &o.Description, &o.Percentage, &o.Active,
		&o.Window.Start, &o.Window.End, &o.CreatedAt,
	)
	return o, err
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var c coupon.Coupon
	err := row.Scan(
		&c.ID, &c.SellerID, &c.ProductID, &c.Code, &c.Percentage, &c.MinPurchase, &c.Active,
		&c.Window.Start, &c.Window.End, &c.CreatedAt,
	)
	return c, err
}

func scanGrant(row pgx.CollectableRow) (coupon.Grant, error) {
	var g coupon.Grant
	err := row.Scan(&g.ID, &g.UserID, &g.CouponID, &g.ProductID, &g.SellerID, &g.Used, &g.AssignedAt)
	return g, err
}
