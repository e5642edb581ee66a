package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/campeche/checkout/internal/domain/catalog"
)

const maxCreateAttempts = 3

// OfferInput is a seller's offer definition.
type OfferInput struct {
	ProductID   int64
	Title       string
	Description string
	Percentage  decimal.Decimal
	Start       time.Time
	End         time.Time
}

// CouponInput is a seller's coupon definition. The code is generated.
type CouponInput struct {
	ProductID   int64
	Percentage  decimal.Decimal
	MinPurchase decimal.Decimal
	Start       time.Time
	End         time.Time
}

// Manager creates and toggles offers and coupons on behalf of sellers.
type Manager struct {
	store    Store
	products catalog.Repository
	codes    *CodeGenerator
	now      func() time.Time
}

// NewManager creates a Manager and warms the code generator with every code
// already in storage.
func NewManager(ctx context.Context, store Store, products catalog.Repository) (*Manager, error) {
	codes, err := store.Codes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load coupon codes")
	}
	return &Manager{
		store:    store,
		products: products,
		codes:    NewCodeGenerator(codes),
		now:      time.Now,
	}, nil
}

// CreateOffer validates and persists a new active offer.
func (m *Manager) CreateOffer(ctx context.Context, sellerID int64, in OfferInput) (*Offer, error) {
	if in.Title == "" {
		return nil, &ValidationError{Field: "title", Message: "this field is required"}
	}
	if in.Description == "" {
		return nil, &ValidationError{Field: "description", Message: "this field is required"}
	}
	if err := ValidatePercentage("percentage", in.Percentage); err != nil {
		return nil, err
	}
	w, err := m.window(in.Start, in.End)
	if err != nil {
		return nil, err
	}
	if err := m.checkOwner(ctx, sellerID, in.ProductID); err != nil {
		return nil, err
	}

	o := &Offer{
		SellerID:    sellerID,
		ProductID:   in.ProductID,
		Title:       in.Title,
		Description: in.Description,
		Percentage:  in.Percentage,
		Active:      true,
		Window:      w,
	}
	if err := m.store.CreateOffer(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create offer")
	}
	return o, nil
}

// CreateCoupon validates and persists a new active coupon with a freshly
// generated code.
func (m *Manager) CreateCoupon(ctx context.Context, sellerID int64, in CouponInput) (*Coupon, error) {
	if err := ValidatePercentage("percentage", in.Percentage); err != nil {
		return nil, err
	}
	if in.MinPurchase.IsNegative() {
		return nil, &ValidationError{Field: "min_purchase_amount", Message: "must not be negative"}
	}
	w, err := m.window(in.Start, in.End)
	if err != nil {
		return nil, err
	}
	if err := m.checkOwner(ctx, sellerID, in.ProductID); err != nil {
		return nil, err
	}

	c := &Coupon{
		SellerID:    sellerID,
		ProductID:   in.ProductID,
		Percentage:  in.Percentage,
		MinPurchase: in.MinPurchase,
		Active:      true,
		Window:      w,
	}
	for range maxCreateAttempts {
		code, err := m.codes.Next(ctx, m.store.CodeExists)
		if err != nil {
			return nil, err
		}
		c.Code = code

		err = m.store.CreateCoupon(ctx, c)
		m.codes.Remember(code)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, ErrCodeTaken):
			continue
		default:
			return nil, errors.Wrap(err, "create coupon")
		}
	}
	return nil, ErrCodeSpaceExhausted
}

// SetOfferActive toggles an offer owned by sellerID.
func (m *Manager) SetOfferActive(ctx context.Context, sellerID, offerID int64, active bool) (*Offer, error) {
	o, err := m.store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.SellerID != sellerID {
		return nil, ErrForbidden
	}
	if err := m.store.SetOfferActive(ctx, offerID, active); err != nil {
		return nil, errors.Wrap(err, "update offer")
	}
	o.Active = active
	return o, nil
}

// SetCouponActive toggles a coupon owned by sellerID.
func (m *Manager) SetCouponActive(ctx context.Context, sellerID, couponID int64, active bool) (*Coupon, error) {
	c, err := m.store.GetCoupon(ctx, couponID)
	if err != nil {
		return nil, err
	}
	if c.SellerID != sellerID {
		return nil, ErrForbidden
	}
	if err := m.store.SetCouponActive(ctx, couponID, active); err != nil {
		return nil, errors.Wrap(err, "update coupon")
	}
	c.Active = active
	return c, nil
}

func (m *Manager) checkOwner(ctx context.Context, sellerID, productID int64) error {
	p, err := m.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return &ValidationError{Field: "product", Message: "product does not exist"}
		}
		return errors.Wrap(err, "lookup product")
	}
	if p.SellerID != sellerID {
		return ErrForbidden
	}
	return nil
}

// window validates a creation-time interval. A zero start means now.
func (m *Manager) window(start, end time.Time) (Window, error) {
	now := m.now()
	if start.IsZero() {
		start = now
	}
	if start.Before(now) {
		return Window{}, &ValidationError{Field: "start_date", Message: "must not be in the past"}
	}
	if end.IsZero() {
		return Window{}, &ValidationError{Field: "end_date", Message: "this field is required"}
	}
	if end.Before(start) {
		return Window{}, &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	return Window{Start: start, End: end}, nil
}

// ValidatePercentage checks that p is within [1, 100] with at most two
// decimal places.
func ValidatePercentage(field string, p decimal.Decimal) error {
	if p.LessThan(decimal.NewFromInt(1)) || p.GreaterThan(hundred) {
		return &ValidationError{Field: field, Message: "must be between 1 and 100"}
	}
	if !p.Equal(p.Truncate(2)) {
		return &ValidationError{Field: field, Message: "must have at most 2 decimal places"}
	}
	return nil
}
