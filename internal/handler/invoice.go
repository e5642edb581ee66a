package handler

import (
	"net/http"
	"time"

	"github.com/campeche/checkout/internal/domain/auth"
	"github.com/campeche/checkout/internal/domain/invoice"
)

type couponRef struct {
	Code string `json:"code" validate:"required,len=6,alphanum"`
}

type itemRequest struct {
	ProductID int64      `json:"product_id" validate:"gt=0"`
	Quantity  int        `json:"quantity" validate:"gte=1"`
	Coupon    *couponRef `json:"coupon,omitempty" validate:"omitempty"`
}

type createInvoiceRequest struct {
	Method string        `json:"method" validate:"required,oneof=tarjeta_debito efectivo"`
	Items  []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type fromCartRequest struct {
	Method string `json:"method,omitempty" validate:"omitempty,oneof=tarjeta_debito efectivo"`
}

type lineResponse struct {
	ProductName string `json:"product_name"`
	SellerName  string `json:"seller_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
	Offer       *int64 `json:"offer,omitempty"`
	Coupon      *int64 `json:"coupon,omitempty"`
}

type invoiceResponse struct {
	ID          int64          `json:"id"`
	Buyer       string         `json:"buyer"`
	DateCreated time.Time      `json:"date_created"`
	Method      string         `json:"method"`
	Total       string         `json:"total"`
	Details     []lineResponse `json:"details"`
}

type productSalesResponse struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

type statsResponse struct {
	TotalSpent  string                `json:"total_spent"`
	TotalEarned string                `json:"total_earned"`
	MostSold    *productSalesResponse `json:"most_sold_product"`
	LeastSold   *productSalesResponse `json:"least_sold_product"`
}

func newInvoiceResponse(inv *invoice.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:          inv.ID,
		Buyer:       inv.BuyerName,
		DateCreated: inv.CreatedAt,
		Method:      string(inv.Method),
		Total:       inv.Total.StringFixed(2),
		Details:     make([]lineResponse, 0, len(inv.Lines)),
	}
	for _, l := range inv.Lines {
		resp.Details = append(resp.Details, lineResponse{
			ProductName: l.ProductName,
			SellerName:  l.SellerName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Subtotal:    l.Subtotal.StringFixed(2),
			Offer:       l.OfferID,
			Coupon:      l.CouponID,
		})
	}
	return resp
}

func newProductSales(ps *invoice.ProductSales) *productSalesResponse {
	if ps == nil {
		return nil
	}
	return &productSalesResponse{Name: ps.Name, Quantity: ps.Quantity}
}

func buyerOf(r *http.Request) (invoice.Buyer, error) {
	id, err := auth.FromContext(r.Context())
	if err != nil {
		return invoice.Buyer{}, err
	}
	return invoice.Buyer{ID: id.UserID, Username: id.Username}, nil
}

// CreateInvoice checks out an explicit list of items.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req createInvoiceRequest
	if err := h.decoder.DecodeAndValidate(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]invoice.ItemRequest, len(req.Items))
	for i, it := range req.Items {
		items[i] = invoice.ItemRequest{ProductID: it.ProductID, Quantity: it.Quantity}
		if it.Coupon != nil {
			items[i].CouponCode = it.Coupon.Code
		}
	}

	inv, err := h.invoices.Create(r.Context(), invoice.CreateRequest{
		Buyer:  buyer,
		Method: invoice.Method(req.Method),
		Items:  items,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newInvoiceResponse(inv))
}

// CreateInvoiceFromCart checks out the caller's cart. An empty body is
// accepted and selects the default payment method.
func (h *Handler) CreateInvoiceFromCart(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req fromCartRequest
	if err := h.decoder.DecodeOptional(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	inv, err := h.invoices.CreateFromCart(r.Context(), buyer, invoice.Method(req.Method))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newInvoiceResponse(inv))
}

// ListInvoices returns the caller's invoices, newest first.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.invoices.List(r.Context(), buyer.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := make([]invoiceResponse, 0, len(list))
	for i := range list {
		resp = append(resp, newInvoiceResponse(&list[i]))
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// GetInvoice returns one of the caller's invoices.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, r, invoice.ErrNotFound)
		return
	}
	inv, err := h.invoices.Get(r.Context(), buyer.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newInvoiceResponse(inv))
}

// InvoiceStats returns the caller's spending and earnings summary.
func (h *Handler) InvoiceStats(w http.ResponseWriter, r *http.Request) {
	buyer, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.invoices.Stats(r.Context(), buyer.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, statsResponse{
		TotalSpent:  st.TotalSpent.StringFixed(2),
		TotalEarned: st.TotalEarned.StringFixed(2),
		MostSold:    newProductSales(st.MostSold),
		LeastSold:   newProductSales(st.LeastSold),
	})
}
