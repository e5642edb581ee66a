package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campeche/checkout/internal/domain/catalog"
	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/eligibility"
	"github.com/campeche/checkout/internal/domain/invoice"
	"github.com/campeche/checkout/internal/domain/notify"
	"github.com/campeche/checkout/internal/handler"
	"github.com/campeche/checkout/internal/storage/memory"
)

var secret = []byte("test-secret")

const (
	anaID   int64 = 1
	luisID  int64 = 2
	martaID int64 = 3
)

type env struct {
	t      *testing.T
	store  *memory.Store
	router http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	st.AddUser(anaID, "ana")
	st.AddUser(luisID, "luis")
	st.AddUser(martaID, "marta")

	svc, err := invoice.NewService(st, eligibility.NewEngine(st, nil), nil)
	require.NoError(t, err)
	mgr, err := coupon.NewManager(context.Background(), st, st)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(handler.Authenticate(secret))
		handler.New(svc, mgr, st).Routes(r)
	})
	return &env{t: t, store: st, router: r}
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return s
}

func userToken(t *testing.T, id int64, name string) string {
	return token(t, jwt.MapClaims{
		"user_id":  id,
		"username": name,
		"exp":      time.Now().Add(time.Hour).Unix(),
	})
}

// do sends body (marshalled unless nil) as user and decodes the response
// into out when out is non-nil.
func (e *env) do(method, path string, user int64, body, out any) *httptest.ResponseRecorder {
	e.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			require.NoError(e.t, err)
			raw = string(b)
		}
		rd = bytes.NewReader([]byte(raw))
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if user != 0 {
		req.Header.Set("Authorization", "Bearer "+userToken(e.t, user, ""))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func (e *env) product(name, price string, stock int, seller int64) catalog.Product {
	return e.store.AddProduct(catalog.Product{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		SellerID: seller,
	})
}

func (e *env) window() coupon.Window {
	now := time.Now()
	return coupon.Window{Start: now.Add(-time.Hour), End: now.Add(24 * time.Hour)}
}

type errorsBody struct {
	Errors map[string]string `json:"errors"`
}

type invoiceBody struct {
	ID      int64  `json:"id"`
	Buyer   string `json:"buyer"`
	Method  string `json:"method"`
	Total   string `json:"total"`
	Details []struct {
		ProductName string `json:"product_name"`
		SellerName  string `json:"seller_name"`
		Quantity    int    `json:"quantity"`
		UnitPrice   string `json:"unit_price"`
		Subtotal    string `json:"subtotal"`
		Offer       *int64 `json:"offer"`
		Coupon      *int64 `json:"coupon"`
	} `json:"details"`
}

func TestAuthenticate(t *testing.T) {
	e := newEnv(t)

	for _, tt := range []struct {
		name   string
		header string
		detail string
	}{
		{name: "Missing", header: "", detail: "missing bearer token"},
		{name: "NotBearer", header: "Token abc", detail: "missing bearer token"},
		{name: "Garbage", header: "Bearer abc.def.ghi", detail: "invalid token"},
		{
			name: "Expired",
			header: "Bearer " + token(t, jwt.MapClaims{
				"user_id": anaID,
				"exp":     time.Now().Add(-time.Minute).Unix(),
			}),
			detail: "token expired",
		},
		{
			name:   "NoUserID",
			header: "Bearer " + token(t, jwt.MapClaims{"username": "ana"}),
			detail: "invalid token claims",
		},
		{
			name:   "FractionalUserID",
			header: "Bearer " + token(t, jwt.MapClaims{"user_id": 1.5}),
			detail: "invalid token claims",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/invoices/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.router.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			var body errorsBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.detail, body.Errors["detail"])
		})
	}

	t.Run("WrongSecret", func(t *testing.T) {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": anaID}).
			SignedString([]byte("other"))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/invoices/", nil)
		req.Header.Set("Authorization", "Bearer "+s)
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCreateInvoice(t *testing.T) {
	e := newEnv(t)
	p := e.product("Mango", "10.00", 5, luisID)
	w := e.window()
	o := e.store.AddOffer(coupon.Offer{
		SellerID: luisID, ProductID: p.ID, Title: "promo",
		Percentage: decimal.NewFromInt(20), Active: true, Window: w,
	})
	c := e.store.AddCoupon(coupon.Coupon{
		SellerID: luisID, ProductID: p.ID, Code: "ABC123",
		Percentage: decimal.NewFromInt(10), MinPurchase: decimal.Zero, Active: true, Window: w,
	})
	e.store.AddGrant(anaID, c)

	var inv invoiceBody
	rec := e.do(http.MethodPost, "/api/invoices/", anaID, map[string]any{
		"method": "tarjeta_debito",
		"items": []map[string]any{
			{"product_id": p.ID, "quantity": 3, "coupon": map[string]string{"code": "ABC123"}},
		},
	}, &inv)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "ana", inv.Buyer)
	assert.Equal(t, "tarjeta_debito", inv.Method)
	assert.Equal(t, "21.60", inv.Total)
	require.Len(t, inv.Details, 1)
	d := inv.Details[0]
	assert.Equal(t, "Mango", d.ProductName)
	assert.Equal(t, "luis", d.SellerName)
	assert.Equal(t, 3, d.Quantity)
	assert.Equal(t, "10.00", d.UnitPrice)
	assert.Equal(t, "21.60", d.Subtotal)
	require.NotNil(t, d.Offer)
	assert.Equal(t, o.ID, *d.Offer)
	require.NotNil(t, d.Coupon)
	assert.Equal(t, c.ID, *d.Coupon)

	got, ok := e.store.Product(p.ID)
	require.True(t, ok)
	assert.Equal(t, 2, got.Stock)
}

func TestCreateInvoice_CouponCodeIsExact(t *testing.T) {
	e := newEnv(t)
	p := e.product("Mango", "10.00", 5, luisID)
	c := e.store.AddCoupon(coupon.Coupon{
		SellerID: luisID, ProductID: p.ID, Code: "ABC123",
		Percentage: decimal.NewFromInt(10), MinPurchase: decimal.Zero, Active: true, Window: e.window(),
	})
	e.store.AddGrant(anaID, c)

	var body errorsBody
	rec := e.do(http.MethodPost, "/api/invoices/", anaID, map[string]any{
		"method": "efectivo",
		"items": []map[string]any{
			{"product_id": p.ID, "quantity": 1, "coupon": map[string]string{"code": "abc123"}},
		},
	}, &body)

	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, body.Errors, "items[0].coupon")
	got, _ := e.store.Product(p.ID)
	assert.Equal(t, 5, got.Stock)
}

func TestCreateInvoice_Errors(t *testing.T) {
	for _, tt := range []struct {
		name   string
		body   func(p catalog.Product) any
		status int
		fields []string
	}{
		{
			name:   "MalformedJSON",
			body:   func(catalog.Product) any { return `{"method":` },
			status: http.StatusBadRequest,
			fields: []string{"body"},
		},
		{
			name:   "UnknownField",
			body:   func(catalog.Product) any { return `{"method":"efectivo","items":[],"extra":1}` },
			status: http.StatusBadRequest,
			fields: []string{"body"},
		},
		{
			name:   "WrongType",
			body:   func(catalog.Product) any { return `{"method":"efectivo","items":"x"}` },
			status: http.StatusBadRequest,
			fields: []string{"items"},
		},
		{
			name: "Validation",
			body: func(p catalog.Product) any {
				return map[string]any{
					"method": "bitcoin",
					"items":  []map[string]any{{"product_id": p.ID, "quantity": 0}},
				}
			},
			status: http.StatusBadRequest,
			fields: []string{"method", "items[0].quantity"},
		},
		{
			name: "EmptyItems",
			body: func(catalog.Product) any {
				return map[string]any{"method": "efectivo", "items": []any{}}
			},
			status: http.StatusBadRequest,
			fields: []string{"items"},
		},
		{
			name: "BadCouponFormat",
			body: func(p catalog.Product) any {
				return map[string]any{
					"method": "efectivo",
					"items":  []map[string]any{{"product_id": p.ID, "quantity": 1, "coupon": map[string]string{"code": "AB-12"}}},
				}
			},
			status: http.StatusBadRequest,
			fields: []string{"items[0].coupon.code"},
		},
		{
			name: "InsufficientStock",
			body: func(p catalog.Product) any {
				return map[string]any{
					"method": "efectivo",
					"items":  []map[string]any{{"product_id": p.ID, "quantity": 9}},
				}
			},
			status: http.StatusBadRequest,
			fields: []string{"items[0].quantity"},
		},
		{
			name: "UnknownProduct",
			body: func(p catalog.Product) any {
				return map[string]any{
					"method": "efectivo",
					"items": []map[string]any{
						{"product_id": p.ID, "quantity": 1},
						{"product_id": 999, "quantity": 1},
					},
				}
			},
			status: http.StatusBadRequest,
			fields: []string{"items[1].product_id"},
		},
		{
			name: "UnknownCoupon",
			body: func(p catalog.Product) any {
				return map[string]any{
					"method": "efectivo",
					"items":  []map[string]any{{"product_id": p.ID, "quantity": 1, "coupon": map[string]string{"code": "ZZZ999"}}},
				}
			},
			status: http.StatusBadRequest,
			fields: []string{"items[0].coupon"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			p := e.product("Mango", "10.00", 5, luisID)

			var body errorsBody
			rec := e.do(http.MethodPost, "/api/invoices/", anaID, tt.body(p), &body)

			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			for _, f := range tt.fields {
				assert.Contains(t, body.Errors, f)
			}
			got, _ := e.store.Product(p.ID)
			assert.Equal(t, 5, got.Stock, "failed checkout must not touch stock")
		})
	}
}

func TestCreateInvoiceFromCart(t *testing.T) {
	e := newEnv(t)
	p := e.product("Papaya", "4.50", 10, luisID)

	t.Run("EmptyCart", func(t *testing.T) {
		var body errorsBody
		rec := e.do(http.MethodPost, "/api/invoices/from-cart", anaID, nil, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "cart")
	})
	t.Run("DefaultMethod", func(t *testing.T) {
		e.store.SetCart(anaID, []invoice.ItemRequest{{ProductID: p.ID, Quantity: 2}})

		var inv invoiceBody
		rec := e.do(http.MethodPost, "/api/invoices/from-cart", anaID, nil, &inv)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "efectivo", inv.Method)
		assert.Equal(t, "9.00", inv.Total)
		assert.Empty(t, e.store.Cart(anaID))
	})
	t.Run("ChunkedEmptyBody", func(t *testing.T) {
		e.store.SetCart(anaID, []invoice.ItemRequest{{ProductID: p.ID, Quantity: 1}})

		req := httptest.NewRequest(http.MethodPost, "/api/invoices/from-cart", bytes.NewReader(nil))
		req.ContentLength = -1
		req.TransferEncoding = []string{"chunked"}
		req.Header.Set("Authorization", "Bearer "+userToken(t, anaID, ""))
		rec := httptest.NewRecorder()
		e.router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var inv invoiceBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &inv))
		assert.Equal(t, "efectivo", inv.Method)
		assert.Empty(t, e.store.Cart(anaID))
	})
	t.Run("WhitespaceBody", func(t *testing.T) {
		e.store.SetCart(anaID, []invoice.ItemRequest{{ProductID: p.ID, Quantity: 1}})

		var inv invoiceBody
		rec := e.do(http.MethodPost, "/api/invoices/from-cart", anaID, "  \n", &inv)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "efectivo", inv.Method)
	})
	t.Run("TruncatedBody", func(t *testing.T) {
		e.store.SetCart(anaID, []invoice.ItemRequest{{ProductID: p.ID, Quantity: 1}})

		var body errorsBody
		rec := e.do(http.MethodPost, "/api/invoices/from-cart", anaID, `{"method":`, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "body")
		assert.Len(t, e.store.Cart(anaID), 1)
	})
	t.Run("ExplicitMethod", func(t *testing.T) {
		e.store.SetCart(anaID, []invoice.ItemRequest{{ProductID: p.ID, Quantity: 1}})

		var inv invoiceBody
		rec := e.do(http.MethodPost, "/api/invoices/from-cart", anaID, map[string]string{"method": "tarjeta_debito"}, &inv)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "tarjeta_debito", inv.Method)
	})
	t.Run("InvalidMethod", func(t *testing.T) {
		e.store.SetCart(anaID, []invoice.ItemRequest{{ProductID: p.ID, Quantity: 1}})

		var body errorsBody
		rec := e.do(http.MethodPost, "/api/invoices/from-cart", anaID, map[string]string{"method": "cheque"}, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "method")
		assert.Len(t, e.store.Cart(anaID), 1)
	})
}

func TestListAndGetInvoice(t *testing.T) {
	e := newEnv(t)
	p := e.product("Coco", "3.00", 10, luisID)

	var created invoiceBody
	rec := e.do(http.MethodPost, "/api/invoices/", anaID, map[string]any{
		"method": "efectivo",
		"items":  []map[string]any{{"product_id": p.ID, "quantity": 1}},
	}, &created)
	require.Equal(t, http.StatusCreated, rec.Code)

	var list []invoiceBody
	rec = e.do(http.MethodGet, "/api/invoices/", anaID, nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	var empty []invoiceBody
	rec = e.do(http.MethodGet, "/api/invoices/", martaID, nil, &empty)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, empty)

	path := "/api/invoices/" + strconv.FormatInt(created.ID, 10)

	var got invoiceBody
	rec = e.do(http.MethodGet, path, anaID, nil, &got)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.00", got.Total)

	for _, tt := range []struct {
		name string
		path string
		user int64
	}{
		{name: "OtherBuyer", path: path, user: martaID},
		{name: "Missing", path: "/api/invoices/424242", user: anaID},
		{name: "Malformed", path: "/api/invoices/abc", user: anaID},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var body errorsBody
			rec := e.do(http.MethodGet, tt.path, tt.user, nil, &body)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, "not found", body.Errors["detail"])
		})
	}
}

func TestInvoiceStats(t *testing.T) {
	e := newEnv(t)
	mango := e.product("Mango", "10.00", 10, luisID)
	coco := e.product("Coco", "2.00", 10, luisID)

	rec := e.do(http.MethodPost, "/api/invoices/", anaID, map[string]any{
		"method": "efectivo",
		"items": []map[string]any{
			{"product_id": mango.ID, "quantity": 1},
			{"product_id": coco.ID, "quantity": 4},
		},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	type sales struct {
		Name     string `json:"name"`
		Quantity int64  `json:"quantity"`
	}
	var stats struct {
		TotalSpent  string `json:"total_spent"`
		TotalEarned string `json:"total_earned"`
		MostSold    *sales `json:"most_sold_product"`
		LeastSold   *sales `json:"least_sold_product"`
	}

	rec = e.do(http.MethodGet, "/api/invoices/stats", anaID, nil, &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "18.00", stats.TotalSpent)
	assert.Equal(t, "0.00", stats.TotalEarned)

	rec = e.do(http.MethodGet, "/api/invoices/stats", luisID, nil, &stats)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0.00", stats.TotalSpent)
	assert.Equal(t, "18.00", stats.TotalEarned)
	require.NotNil(t, stats.MostSold)
	assert.Equal(t, sales{Name: "Coco", Quantity: 4}, *stats.MostSold)
	require.NotNil(t, stats.LeastSold)
	assert.Equal(t, sales{Name: "Mango", Quantity: 1}, *stats.LeastSold)
}

func TestOffers(t *testing.T) {
	e := newEnv(t)
	p := e.product("Mango", "10.00", 10, luisID)
	end := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	type offerBody struct {
		ID         int64  `json:"id"`
		ProductID  int64  `json:"product"`
		Title      string `json:"title"`
		Percentage string `json:"percentage"`
		Active     bool   `json:"active"`
	}

	var o offerBody
	rec := e.do(http.MethodPost, "/api/offers/", luisID, map[string]any{
		"product_id":  p.ID,
		"title":       "Summer",
		"description": "Cheap mangoes",
		"percentage":  "15",
		"end_date":    end,
	}, &o)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, p.ID, o.ProductID)
	assert.Equal(t, "15.00", o.Percentage)
	assert.True(t, o.Active)

	t.Run("NotOwner", func(t *testing.T) {
		rec := e.do(http.MethodPost, "/api/offers/", martaID, map[string]any{
			"product_id":  p.ID,
			"title":       "Steal",
			"description": "x",
			"percentage":  "15",
			"end_date":    end,
		}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("BadPercentage", func(t *testing.T) {
		var body errorsBody
		rec := e.do(http.MethodPost, "/api/offers/", luisID, map[string]any{
			"product_id":  p.ID,
			"title":       "Too much",
			"description": "x",
			"percentage":  "150",
			"end_date":    end,
		}, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "percentage")
	})
	t.Run("MissingFields", func(t *testing.T) {
		var body errorsBody
		rec := e.do(http.MethodPost, "/api/offers/", luisID, map[string]any{"product_id": p.ID}, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "title")
		assert.Contains(t, body.Errors, "end_date")
	})

	path := "/api/offers/" + strconv.FormatInt(o.ID, 10)
	t.Run("Deactivate", func(t *testing.T) {
		var got offerBody
		rec := e.do(http.MethodPatch, path, luisID, map[string]any{"active": false}, &got)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.False(t, got.Active)
	})
	t.Run("ToggleNotOwner", func(t *testing.T) {
		rec := e.do(http.MethodPatch, path, martaID, map[string]any{"active": true}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("ToggleMissingActive", func(t *testing.T) {
		var body errorsBody
		rec := e.do(http.MethodPatch, path, luisID, map[string]any{}, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "active")
	})
	t.Run("ToggleMissing", func(t *testing.T) {
		rec := e.do(http.MethodPatch, "/api/offers/9999", luisID, map[string]any{"active": true}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCoupons(t *testing.T) {
	e := newEnv(t)
	p := e.product("Mango", "10.00", 10, luisID)
	end := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	type couponBody struct {
		ID          int64  `json:"id"`
		Code        string `json:"code"`
		Percentage  string `json:"percentage"`
		MinPurchase string `json:"min_purchase_amount"`
		Active      bool   `json:"active"`
	}

	var c couponBody
	rec := e.do(http.MethodPost, "/api/coupons/", luisID, map[string]any{
		"product_id":          p.ID,
		"percentage":          10,
		"min_purchase_amount": "50.00",
		"end_date":            end,
	}, &c)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, c.Code, 6)
	assert.Equal(t, "10.00", c.Percentage)
	assert.Equal(t, "50.00", c.MinPurchase)

	t.Run("PastStart", func(t *testing.T) {
		var body errorsBody
		rec := e.do(http.MethodPost, "/api/coupons/", luisID, map[string]any{
			"product_id": p.ID,
			"percentage": 10,
			"start_date": time.Now().Add(-48 * time.Hour).UTC().Format(time.RFC3339),
			"end_date":   end,
		}, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "start_date")
	})
	t.Run("UnknownProduct", func(t *testing.T) {
		var body errorsBody
		rec := e.do(http.MethodPost, "/api/coupons/", luisID, map[string]any{
			"product_id": 9999,
			"percentage": 10,
			"end_date":   end,
		}, &body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, body.Errors, "product")
	})
	t.Run("Deactivate", func(t *testing.T) {
		var got couponBody
		rec := e.do(http.MethodPatch, "/api/coupons/"+strconv.FormatInt(c.ID, 10), luisID, map[string]any{"active": false}, &got)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.False(t, got.Active)
		assert.Equal(t, c.Code, got.Code)
	})
}

func TestNotifications(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.Deliver(ctx, notify.Event{
		Type: notify.TypePurchase, UserID: anaID, Title: "Purchase completed",
		Data: map[string]string{"invoice_id": "1"},
	}))
	require.NoError(t, e.store.Deliver(ctx, notify.Event{
		Type: notify.TypeCouponGranted, UserID: anaID, Title: "You got a coupon",
	}))
	require.NoError(t, e.store.Deliver(ctx, notify.Event{
		Type: notify.TypeSale, UserID: luisID, Title: "New sale",
	}))

	type noteBody struct {
		ID    int64             `json:"id"`
		Type  string            `json:"type"`
		Title string            `json:"title"`
		Data  map[string]string `json:"data"`
	}

	var list []noteBody
	rec := e.do(http.MethodGet, "/api/notifications/", anaID, nil, &list)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, list, 2)
	assert.Equal(t, "coupon_granted", list[0].Type)
	assert.Equal(t, "purchase", list[1].Type)
	assert.Equal(t, map[string]string{"invoice_id": "1"}, list[1].Data)
	assert.NotNil(t, list[0].Data)

	path := "/api/notifications/" + strconv.FormatInt(list[0].ID, 10)
	t.Run("DeleteOthers", func(t *testing.T) {
		rec := e.do(http.MethodDelete, path, luisID, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("DeleteMalformed", func(t *testing.T) {
		rec := e.do(http.MethodDelete, "/api/notifications/abc", anaID, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("Delete", func(t *testing.T) {
		rec := e.do(http.MethodDelete, path, anaID, nil, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Body.String())

		var rest []noteBody
		rec = e.do(http.MethodGet, "/api/notifications/", anaID, nil, &rest)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, rest, 1)
		assert.Equal(t, "purchase", rest[0].Type)

		rec = e.do(http.MethodDelete, path, anaID, nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
	t.Run("Empty", func(t *testing.T) {
		var none []noteBody
		rec := e.do(http.MethodGet, "/api/notifications/", martaID, nil, &none)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, none)
		assert.Equal(t, "[]\n", rec.Body.String())
	})
}
