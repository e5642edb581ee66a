package handler

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campeche/checkout/internal/domain/auth"
	"github.com/campeche/checkout/internal/domain/coupon"
)

type offerRequest struct {
	ProductID   int64           `json:"product_id" validate:"gt=0"`
	Title       string          `json:"title" validate:"required,max=200"`
	Description string          `json:"description" validate:"required"`
	Percentage  decimal.Decimal `json:"percentage"`
	StartDate   *time.Time      `json:"start_date,omitempty"`
	EndDate     *time.Time      `json:"end_date" validate:"required"`
}

type couponRequest struct {
	ProductID   int64            `json:"product_id" validate:"gt=0"`
	Percentage  decimal.Decimal  `json:"percentage"`
	MinPurchase *decimal.Decimal `json:"min_purchase_amount,omitempty"`
	StartDate   *time.Time       `json:"start_date,omitempty"`
	EndDate     *time.Time       `json:"end_date" validate:"required"`
}

type toggleRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type offerResponse struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Percentage  string    `json:"percentage"`
	Active      bool      `json:"active"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

type couponResponse struct {
	ID          int64     `json:"id"`
	ProductID   int64     `json:"product"`
	Code        string    `json:"code"`
	Percentage  string    `json:"percentage"`
	MinPurchase string    `json:"min_purchase_amount"`
	Active      bool      `json:"active"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}

func newOfferResponse(o *coupon.Offer) offerResponse {
	return offerResponse{
		ID:          o.ID,
		ProductID:   o.ProductID,
		Title:       o.Title,
		Description: o.Description,
		Percentage:  o.Percentage.StringFixed(2),
		Active:      o.Active,
		StartDate:   o.Window.Start,
		EndDate:     o.Window.End,
	}
}

func newCouponResponse(c *coupon.Coupon) couponResponse {
	return couponResponse{
		ID:          c.ID,
		ProductID:   c.ProductID,
		Code:        c.Code,
		Percentage:  c.Percentage.StringFixed(2),
		MinPurchase: c.MinPurchase.StringFixed(2),
		Active:      c.Active,
		StartDate:   c.Window.Start,
		EndDate:     c.Window.End,
	}
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// CreateOffer defines an automatic discount on one of the caller's products.
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	seller, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req offerRequest
	if err := h.decoder.DecodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.coupons.CreateOffer(r.Context(), seller.UserID, coupon.OfferInput{
		ProductID:   req.ProductID,
		Title:       req.Title,
		Description: req.Description,
		Percentage:  req.Percentage,
		Start:       deref(req.StartDate),
		End:         deref(req.EndDate),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newOfferResponse(o))
}

// CreateCoupon defines a code-activated discount on one of the caller's
// products. The code is generated.
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	seller, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponRequest
	if err := h.decoder.DecodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	minPurchase := decimal.Zero
	if req.MinPurchase != nil {
		minPurchase = *req.MinPurchase
	}

	c, err := h.coupons.CreateCoupon(r.Context(), seller.UserID, coupon.CouponInput{
		ProductID:   req.ProductID,
		Percentage:  req.Percentage,
		MinPurchase: minPurchase,
		Start:       deref(req.StartDate),
		End:         deref(req.EndDate),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newCouponResponse(c))
}

// SetOfferActive enables or disables one of the caller's offers.
func (h *Handler) SetOfferActive(w http.ResponseWriter, r *http.Request) {
	seller, active, id, ok := h.toggle(w, r)
	if !ok {
		return
	}
	o, err := h.coupons.SetOfferActive(r.Context(), seller, id, active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newOfferResponse(o))
}

// SetCouponActive enables or disables one of the caller's coupons.
func (h *Handler) SetCouponActive(w http.ResponseWriter, r *http.Request) {
	seller, active, id, ok := h.toggle(w, r)
	if !ok {
		return
	}
	c, err := h.coupons.SetCouponActive(r.Context(), seller, id, active)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newCouponResponse(c))
}

// toggle parses the common parts of the PATCH endpoints. It writes the error
// response itself and reports ok=false on failure.
func (h *Handler) toggle(w http.ResponseWriter, r *http.Request) (sellerID int64, active bool, id int64, ok bool) {
	seller, err := auth.FromContext(r.Context())
	if err != nil {
		writeError(w, r, err)
		return 0, false, 0, false
	}
	if id, ok = pathID(r); !ok {
		writeError(w, r, coupon.ErrNotFound)
		return 0, false, 0, false
	}
	var req toggleRequest
	if err := h.decoder.DecodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return 0, false, 0, false
	}
	return seller.UserID, *req.Active, id, true
}
