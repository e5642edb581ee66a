package invoice

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/campeche/checkout/internal/domain/catalog"
)

// Sentinel errors for checkout validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidMethod   = errors.New("invalid payment method")
	ErrInvalidQuantity = errors.New("quantity must be greater than 0")
	ErrProductNotFound = errors.New("product does not exist")
	ErrCartEmpty       = errors.New("cart is empty")
	ErrNotFound        = errors.New("invoice not found")

	// ErrInsufficientStock is the catalog error so callers can match either.
	ErrInsufficientStock = catalog.ErrInsufficientStock
)

// LineError ties a failure to the request line that caused it.
type LineError struct {
	Index     int
	ProductID int64
	Err       error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("items[%d] (product %d): %v", e.Index, e.ProductID, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}
