// Package handler exposes the checkout service over JSON/HTTP on a chi router.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/invoice"
	"github.com/campeche/checkout/internal/domain/notify"
)

// Handler serves the /api routes. Every route requires an identity placed in
// the context by Authenticate.
type Handler struct {
	invoices *invoice.Service
	coupons  *coupon.Manager
	inbox    notify.Inbox
	decoder  *Decoder
}

// New constructs a Handler with the required domain dependencies.
func New(invoices *invoice.Service, coupons *coupon.Manager, inbox notify.Inbox) *Handler {
	return &Handler{
		invoices: invoices,
		coupons:  coupons,
		inbox:    inbox,
		decoder:  NewDecoder(),
	}
}

// Routes registers the API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/invoices", func(r chi.Router) {
		r.Get("/", h.ListInvoices)
		r.Post("/", h.CreateInvoice)
		r.Post("/from-cart", h.CreateInvoiceFromCart)
		r.Get("/stats", h.InvoiceStats)
		r.Get("/{id}", h.GetInvoice)
	})
	r.Route("/offers", func(r chi.Router) {
		r.Post("/", h.CreateOffer)
		r.Patch("/{id}", h.SetOfferActive)
	})
	r.Route("/coupons", func(r chi.Router) {
		r.Post("/", h.CreateCoupon)
		r.Patch("/{id}", h.SetCouponActive)
	})
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.ListNotifications)
		r.Delete("/{id}", h.DeleteNotification)
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(r.Context()).Debug("Write response", zap.Error(err))
	}
}

// pathID parses the {id} URL parameter. Malformed ids are reported as not
// found since no resource can have them.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
