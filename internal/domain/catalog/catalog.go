// Package catalog exposes the read side of the product catalog as seen by
// checkout: price, stock and the owning seller.
package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInsufficientStock is returned when a stock decrement would drive the
	// product stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Product is a catalog item available for purchase.
type Product struct {
	ID         int64
	Name       string
	Price      decimal.Decimal
	Stock      int
	SellerID   int64
	SellerName string
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Product, error)
}

// Locker reads products under a row lock and mutates their stock. It is only
// meaningful inside a transaction: the snapshot returned by LockByIDs stays
// consistent until the transaction ends.
type Locker interface {
	// LockByIDs returns the products that exist among ids. Missing ids are
	// silently skipped; callers detect them by comparing against the input.
	LockByIDs(ctx context.Context, ids []int64) ([]Product, error)
	// DecrementStock subtracts qty from the product stock. It returns
	// ErrInsufficientStock instead of going negative.
	DecrementStock(ctx context.Context, id int64, qty int) error
}
