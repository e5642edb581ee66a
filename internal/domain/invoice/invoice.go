package invoice

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campeche/checkout/internal/domain/catalog"
	"github.com/campeche/checkout/internal/domain/coupon"
)

// Method is the payment method recorded on an invoice.
type Method string

const (
	MethodDebitCard Method = "tarjeta_debito"
	MethodCash      Method = "efectivo"
)

// Valid reports whether m is a known payment method.
func (m Method) Valid() bool {
	switch m {
	case MethodDebitCard, MethodCash:
		return true
	default:
		return false
	}
}

// Buyer identifies the purchasing user.
type Buyer struct {
	ID       int64
	Username string
}

// Invoice is an immutable record of a completed checkout.
type Invoice struct {
	ID        int64
	BuyerID   int64
	BuyerName string
	Method    Method
	Total     decimal.Decimal
	CreatedAt time.Time
	Lines     []Line
}

// Line is one product of an invoice. SellerID, UnitPrice and Subtotal are
// captured at checkout and never change afterwards.
type Line struct {
	ID          int64
	InvoiceID   int64
	ProductID   int64
	ProductName string
	SellerID    int64
	SellerName  string
	Quantity    int
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	OfferID     *int64
	CouponID    *int64
}

// ItemRequest is a requested line. CouponCode is optional.
type ItemRequest struct {
	ProductID  int64
	Quantity   int
	CouponCode string
}

// CreateRequest holds the input for an ad-hoc checkout.
type CreateRequest struct {
	Buyer  Buyer
	Method Method
	Items  []ItemRequest
}

// ProductSales is the sold quantity of a product across all invoices.
type ProductSales struct {
	Name     string
	Quantity int64
}

// Stats summarises a user's activity as buyer and as seller.
type Stats struct {
	TotalSpent  decimal.Decimal
	TotalEarned decimal.Decimal
	MostSold    *ProductSales
	LeastSold   *ProductSales
}

// Writer persists invoices inside a checkout transaction.
type Writer interface {
	// CreateInvoice inserts the invoice shell and fills ID, CreatedAt and
	// BuyerName.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// AddLine inserts a line and fills its ID.
	AddLine(ctx context.Context, l *Line) error
	SetTotal(ctx context.Context, invoiceID int64, total decimal.Decimal) error
}

// CartRepository exposes the buyer's persisted cart.
type CartRepository interface {
	// CartItems returns the cart contents in insertion order. It returns
	// ErrCartEmpty when the user has no cart or the cart has no items.
	CartItems(ctx context.Context, userID int64) ([]ItemRequest, error)
	ClearCart(ctx context.Context, userID int64) error
}

// Tx is everything a checkout needs within a single transaction.
type Tx interface {
	catalog.Locker
	coupon.Reader
	coupon.Redeemer
	Writer
	CartRepository
}

// Reader serves invoice queries.
type Reader interface {
	ListByBuyer(ctx context.Context, buyerID int64) ([]Invoice, error)
	// GetForBuyer returns ErrNotFound when the invoice does not exist or
	// belongs to another buyer.
	GetForBuyer(ctx context.Context, buyerID, id int64) (*Invoice, error)
	Stats(ctx context.Context, userID int64) (*Stats, error)
}

// Store runs checkout transactions and invoice queries.
type Store interface {
	Reader
	// InTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
