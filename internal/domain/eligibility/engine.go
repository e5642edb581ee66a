// Package eligibility grants coupons to buyers whose purchases qualify.
//
// The engine runs after an invoice has been committed, once per line. For
// each live coupon of the line's product whose minimum purchase amount is met
// by the line subtotal, it creates a grant for the buyer unless one already
// exists for the same (buyer, product, seller). Uniqueness is enforced by
// storage, not by a read-then-write check, so concurrent checkouts cannot
// produce duplicate grants.
package eligibility

import (
	"context"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/notify"
)

// Repository provides coupon lookups and idempotent grant creation.
type Repository interface {
	CouponsForProduct(ctx context.Context, productID int64) ([]coupon.Coupon, error)
	// GrantOnce inserts g unless the user already holds any grant (used or
	// not) for g's product and seller. It reports whether g was created and
	// fills g.ID and g.AssignedAt when it was.
	GrantOnce(ctx context.Context, g *coupon.Grant) (bool, error)
}

// Line is a committed invoice line as seen by the engine.
type Line struct {
	BuyerID   int64
	ProductID int64
	Subtotal  decimal.Decimal
}

// Engine evaluates coupon eligibility rules.
type Engine struct {
	repo Repository
	pub  notify.Publisher
	now  func() time.Time
}

// NewEngine creates an Engine. pub may be nil.
func NewEngine(repo Repository, pub notify.Publisher) *Engine {
	return &Engine{repo: repo, pub: pub, now: time.Now}
}

// Evaluate grants every coupon the line qualifies for and returns the grants
// that were newly created.
func (e *Engine) Evaluate(ctx context.Context, line Line) ([]coupon.Grant, error) {
	coupons, err := e.repo.CouponsForProduct(ctx, line.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup coupons")
	}

	now := e.now()
	var granted []coupon.Grant
	for _, c := range coupons {
		if !c.LiveAt(now) || line.Subtotal.LessThan(c.MinPurchase) {
			continue
		}

		g := coupon.Grant{
			UserID:    line.BuyerID,
			CouponID:  c.ID,
			ProductID: c.ProductID,
			SellerID:  c.SellerID,
		}
		created, err := e.repo.GrantOnce(ctx, &g)
		if err != nil {
			return granted, errors.Wrapf(err, "grant coupon %d", c.ID)
		}
		if !created {
			continue
		}
		granted = append(granted, g)
		e.announce(ctx, c, g)
	}
	return granted, nil
}

func (e *Engine) announce(ctx context.Context, c coupon.Coupon, g coupon.Grant) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(ctx, notify.Event{
		Type:    notify.TypeCouponGranted,
		UserID:  g.UserID,
		Title:   "You earned a coupon",
		Message: "Use code " + c.Code + " for " + c.Percentage.String() + "% off your next purchase of this product.",
		Data: map[string]string{
			"coupon_id":  strconv.FormatInt(c.ID, 10),
			"product_id": strconv.FormatInt(c.ProductID, 10),
			"code":       c.Code,
			"percentage": c.Percentage.StringFixed(2),
		},
	})
}
