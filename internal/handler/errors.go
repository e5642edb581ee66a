package handler

import (
	"fmt"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/campeche/checkout/internal/domain/auth"
	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/invoice"
	"github.com/campeche/checkout/internal/domain/notify"
)

type errorsResponse struct {
	Errors FieldErrors `json:"errors"`
}

func writeErrors(w http.ResponseWriter, r *http.Request, status int, errs FieldErrors) {
	writeJSON(w, r, status, errorsResponse{Errors: errs})
}

// writeError maps a domain error to a status code and a field-keyed body.
// Anything unrecognised is logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		fieldErrs FieldErrors
		lineErr   *invoice.LineError
		valErr    *coupon.ValidationError
	)
	switch {
	case errors.As(err, &fieldErrs):
		writeErrors(w, r, http.StatusBadRequest, fieldErrs)
	case errors.As(err, &lineErr) && lineField(lineErr) != "":
		writeErrors(w, r, http.StatusBadRequest, FieldErrors{lineField(lineErr): lineErr.Err.Error()})
	case errors.As(err, &valErr):
		writeErrors(w, r, http.StatusBadRequest, FieldErrors{valErr.Field: valErr.Message})
	case errors.Is(err, invoice.ErrEmptyItems):
		writeErrors(w, r, http.StatusBadRequest, FieldErrors{"items": err.Error()})
	case errors.Is(err, invoice.ErrInvalidMethod):
		writeErrors(w, r, http.StatusBadRequest, FieldErrors{"method": err.Error()})
	case errors.Is(err, invoice.ErrCartEmpty):
		writeErrors(w, r, http.StatusBadRequest, FieldErrors{"cart": err.Error()})
	case errors.Is(err, invoice.ErrNotFound), errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, notify.ErrNotFound):
		writeErrors(w, r, http.StatusNotFound, FieldErrors{"detail": "not found"})
	case errors.Is(err, coupon.ErrForbidden):
		writeErrors(w, r, http.StatusForbidden, FieldErrors{"detail": "you do not own this resource"})
	case errors.Is(err, auth.ErrUnauthenticated):
		writeErrors(w, r, http.StatusUnauthorized, FieldErrors{"detail": "authentication required"})
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeErrors(w, r, http.StatusInternalServerError, FieldErrors{"detail": "internal error"})
	}
}

// lineField points a line failure at the request field that caused it. It
// returns "" for failures the client cannot fix.
func lineField(e *invoice.LineError) string {
	var field string
	switch {
	case errors.Is(e.Err, invoice.ErrInvalidQuantity), errors.Is(e.Err, invoice.ErrInsufficientStock):
		field = "quantity"
	case errors.Is(e.Err, invoice.ErrProductNotFound):
		field = "product_id"
	case errors.Is(e.Err, coupon.ErrInvalidCoupon), errors.Is(e.Err, coupon.ErrCouponNotAssigned):
		field = "coupon"
	default:
		return ""
	}
	return fmt.Sprintf("items[%d].%s", e.Index, field)
}
