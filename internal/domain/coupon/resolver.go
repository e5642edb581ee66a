package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Input describes a single line to price.
type Input struct {
	BuyerID    int64
	ProductID  int64
	UnitPrice  decimal.Decimal
	Quantity   int
	CouponCode string
}

// Resolution is the priced line. Grant is set when a coupon was applied and
// must be redeemed in the same transaction that persists the line.
type Resolution struct {
	UnitPrice decimal.Decimal
	Gross     decimal.Decimal
	Subtotal  decimal.Decimal
	Offer     *Offer
	Coupon    *Coupon
	Grant     *Grant
}

// Resolver applies at most one offer and at most one coupon to a line.
// It never mutates storage.
type Resolver struct {
	now func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock sets the time source used to decide which offers and coupons are
// live.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a Resolver. It uses the wall clock unless WithClock is
// given.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve prices a line: the best live offer is applied to the gross amount,
// then the coupon (if a code was supplied) is applied to the post-offer amount.
func (r *Resolver) Resolve(ctx context.Context, repo Reader, in Input) (*Resolution, error) {
	now := r.now()
	qty := decimal.NewFromInt(int64(in.Quantity))
	gross := in.UnitPrice.Mul(qty)

	res := &Resolution{
		UnitPrice: in.UnitPrice,
		Gross:     gross,
	}
	amount := gross

	offers, err := repo.OffersForProduct(ctx, in.ProductID)
	if err != nil {
		return nil, errors.Wrap(err, "lookup offers")
	}
	if best := BestOffer(offers, now); best != nil {
		res.Offer = best
		amount = ApplyPercentage(amount, best.Percentage)
	}

	if in.CouponCode != "" {
		c, g, err := r.lookupCoupon(ctx, repo, in, now)
		if err != nil {
			return nil, err
		}
		res.Coupon = c
		res.Grant = g
		amount = ApplyPercentage(amount, c.Percentage)
	}

	res.Subtotal = finalize(amount)
	return res, nil
}

func (r *Resolver) lookupCoupon(ctx context.Context, repo Reader, in Input, now time.Time) (*Coupon, *Grant, error) {
	c, err := repo.CouponByCode(ctx, in.CouponCode)
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return nil, nil, ErrInvalidCoupon
		}
		return nil, nil, errors.Wrap(err, "lookup coupon")
	}
	if c.ProductID != in.ProductID || !c.LiveAt(now) {
		return nil, nil, ErrInvalidCoupon
	}

	g, err := repo.UnusedGrant(ctx, in.BuyerID, c.ID)
	if err != nil {
		if errors.Is(err, ErrCouponNotAssigned) {
			return nil, nil, ErrCouponNotAssigned
		}
		return nil, nil, errors.Wrap(err, "lookup grant")
	}
	return c, g, nil
}
