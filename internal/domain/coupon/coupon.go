package coupon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon is returned when a code does not resolve to a live
	// coupon of the product being purchased.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponNotAssigned is returned when the buyer holds no unused grant
	// for the coupon, including when a concurrent checkout redeemed it first.
	ErrCouponNotAssigned = errors.New("coupon not assigned to user or already used")
	// ErrNotFound is returned when an offer or coupon id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when a seller acts on a product, offer or
	// coupon they do not own.
	ErrForbidden = errors.New("not owned by seller")
	// ErrCodeTaken is returned by storage when a coupon code already exists.
	ErrCodeTaken = errors.New("coupon code already exists")
)

// ValidationError reports an invalid field of an offer or coupon definition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Window is an inclusive validity interval.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t is within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Offer is a seller-defined percentage discount applied automatically to a
// product while it is live.
type Offer struct {
	ID          int64
	SellerID    int64
	ProductID   int64
	Title       string
	Description string
	Percentage  decimal.Decimal
	Active      bool
	Window      Window
	CreatedAt   time.Time
}

// LiveAt reports whether the offer applies at t.
func (o Offer) LiveAt(t time.Time) bool {
	return o.Active && o.Window.Contains(t)
}

// Coupon is a code-activated percentage discount. Buyers can only redeem it
// after being granted it by the eligibility engine.
type Coupon struct {
	ID          int64
	SellerID    int64
	ProductID   int64
	Code        string
	Percentage  decimal.Decimal
	MinPurchase decimal.Decimal
	Active      bool
	Window      Window
	CreatedAt   time.Time
}

// LiveAt reports whether the coupon can be used or granted at t.
func (c Coupon) LiveAt(t time.Time) bool {
	return c.Active && c.Window.Contains(t)
}

// Grant assigns a coupon to a user. ProductID and SellerID are copied from
// the coupon so that (user, product, seller) can carry a unique constraint.
type Grant struct {
	ID         int64
	UserID     int64
	CouponID   int64
	ProductID  int64
	SellerID   int64
	Used       bool
	AssignedAt time.Time
}

// Reader provides the lookups needed to price a line.
type Reader interface {
	// OffersForProduct returns every offer of the product, live or not.
	OffersForProduct(ctx context.Context, productID int64) ([]Offer, error)
	// CouponByCode returns the coupon with exactly this code, or
	// ErrInvalidCoupon.
	CouponByCode(ctx context.Context, code string) (*Coupon, error)
	// UnusedGrant returns the user's unused grant for the coupon, or
	// ErrCouponNotAssigned.
	UnusedGrant(ctx context.Context, userID, couponID int64) (*Grant, error)
}

// Redeemer consumes grants.
type Redeemer interface {
	// RedeemGrant flips the grant to used. It returns ErrCouponNotAssigned
	// when the grant was already used.
	RedeemGrant(ctx context.Context, grantID int64) error
}

// Store persists offer and coupon definitions.
type Store interface {
	CreateOffer(ctx context.Context, o *Offer) error
	GetOffer(ctx context.Context, id int64) (*Offer, error)
	SetOfferActive(ctx context.Context, id int64, active bool) error

	// CreateCoupon inserts c and fills its ID and CreatedAt. It returns
	// ErrCodeTaken when the code collides with an existing coupon.
	CreateCoupon(ctx context.Context, c *Coupon) error
	GetCoupon(ctx context.Context, id int64) (*Coupon, error)
	SetCouponActive(ctx context.Context, id int64, active bool) error
	CodeExists(ctx context.Context, code string) (bool, error)
	Codes(ctx context.Context) ([]string, error)
}
