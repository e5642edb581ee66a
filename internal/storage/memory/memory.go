// Package memory is an in-process implementation of every storage interface
// the checkout needs. A single mutex serialises transactions; each
// transaction works on a clone of the state that replaces the live state only
// when the transaction succeeds, so a failed checkout leaves no trace.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campeche/checkout/internal/domain/catalog"
	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/eligibility"
	"github.com/campeche/checkout/internal/domain/invoice"
	"github.com/campeche/checkout/internal/domain/notify"
)

var (
	_ invoice.Store          = (*Store)(nil)
	_ invoice.Tx             = (*state)(nil)
	_ catalog.Repository     = (*Store)(nil)
	_ coupon.Store           = (*Store)(nil)
	_ eligibility.Repository = (*Store)(nil)
	_ notify.Sink            = (*Store)(nil)
	_ notify.Inbox           = (*Store)(nil)
)

type state struct {
	now func() time.Time
	seq int64

	users    map[int64]string
	products map[int64]catalog.Product
	offers   map[int64]coupon.Offer
	coupons  map[int64]coupon.Coupon
	grants   map[int64]coupon.Grant
	invoices map[int64]invoice.Invoice
	carts    map[int64][]invoice.ItemRequest
	notes    []notify.Event
}

func newState() *state {
	return &state{
		now:      time.Now,
		users:    map[int64]string{},
		products: map[int64]catalog.Product{},
		offers:   map[int64]coupon.Offer{},
		coupons:  map[int64]coupon.Coupon{},
		grants:   map[int64]coupon.Grant{},
		invoices: map[int64]invoice.Invoice{},
		carts:    map[int64][]invoice.ItemRequest{},
	}
}

func (s *state) clone() *state {
	c := *s
	c.users = maps.Clone(s.users)
	c.products = maps.Clone(s.products)
	c.offers = maps.Clone(s.offers)
	c.coupons = maps.Clone(s.coupons)
	c.grants = maps.Clone(s.grants)
	c.invoices = make(map[int64]invoice.Invoice, len(s.invoices))
	for id, inv := range s.invoices {
		inv.Lines = slices.Clone(inv.Lines)
		c.invoices[id] = inv
	}
	c.carts = make(map[int64][]invoice.ItemRequest, len(s.carts))
	for id, items := range s.carts {
		c.carts[id] = slices.Clone(items)
	}
	c.notes = slices.Clone(s.notes)
	return &c
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store holds the whole data set in memory.
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty Store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a private copy of the state and publishes the copy
// only when fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx invoice.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(ctx, work); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) read(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

func (s *Store) write(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

// Catalog.

func (s *state) LockByIDs(_ context.Context, ids []int64) ([]catalog.Product, error) {
	out := make([]catalog.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			p.SellerName = s.users[p.SellerID]
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *state) DecrementStock(_ context.Context, id int64, qty int) error {
	p, ok := s.products[id]
	if !ok {
		return catalog.ErrNotFound
	}
	if p.Stock < qty {
		return catalog.ErrInsufficientStock
	}
	p.Stock -= qty
	s.products[id] = p
	return nil
}

// GetByID returns a product with its seller name.
func (s *Store) GetByID(_ context.Context, id int64) (*catalog.Product, error) {
	var (
		p  catalog.Product
		ok bool
	)
	s.read(func(st *state) {
		p, ok = st.products[id]
		p.SellerName = st.users[p.SellerID]
	})
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &p, nil
}

// Coupons.

func (s *state) OffersForProduct(_ context.Context, productID int64) ([]coupon.Offer, error) {
	var out []coupon.Offer
	for _, o := range s.offers {
		if o.ProductID == productID {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b coupon.Offer) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *state) CouponByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	for _, c := range s.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, coupon.ErrInvalidCoupon
}

func (s *state) UnusedGrant(_ context.Context, userID, couponID int64) (*coupon.Grant, error) {
	for _, g := range s.grants {
		if g.UserID == userID && g.CouponID == couponID && !g.Used {
			return &g, nil
		}
	}
	return nil, coupon.ErrCouponNotAssigned
}

func (s *state) RedeemGrant(_ context.Context, grantID int64) error {
	g, ok := s.grants[grantID]
	if !ok || g.Used {
		return coupon.ErrCouponNotAssigned
	}
	g.Used = true
	s.grants[grantID] = g
	return nil
}

func (s *state) couponsForProduct(productID int64) []coupon.Coupon {
	var out []coupon.Coupon
	for _, c := range s.coupons {
		if c.ProductID == productID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *state) grantOnce(g *coupon.Grant) bool {
	for _, existing := range s.grants {
		if existing.UserID == g.UserID && existing.ProductID == g.ProductID && existing.SellerID == g.SellerID {
			return false
		}
	}
	g.ID = s.nextID()
	g.AssignedAt = s.now()
	s.grants[g.ID] = *g
	return true
}

// CouponsForProduct returns every coupon of the product.
func (s *Store) CouponsForProduct(_ context.Context, productID int64) ([]coupon.Coupon, error) {
	var out []coupon.Coupon
	s.read(func(st *state) { out = st.couponsForProduct(productID) })
	return out, nil
}

// GrantOnce creates g unless the user already holds a grant for its
// product and seller.
func (s *Store) GrantOnce(_ context.Context, g *coupon.Grant) (bool, error) {
	var created bool
	_ = s.write(func(st *state) error {
		created = st.grantOnce(g)
		return nil
	})
	return created, nil
}

// Grants returns the user's grants ordered by id.
func (s *Store) Grants(userID int64) []coupon.Grant {
	var out []coupon.Grant
	s.read(func(st *state) {
		for _, g := range st.grants {
			if g.UserID == userID {
				out = append(out, g)
			}
		}
	})
	slices.SortFunc(out, func(a, b coupon.Grant) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) CreateOffer(_ context.Context, o *coupon.Offer) error {
	return s.write(func(st *state) error {
		o.ID = st.nextID()
		o.CreatedAt = st.now()
		st.offers[o.ID] = *o
		return nil
	})
}

func (s *Store) GetOffer(_ context.Context, id int64) (*coupon.Offer, error) {
	var (
		o  coupon.Offer
		ok bool
	)
	s.read(func(st *state) { o, ok = st.offers[id] })
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &o, nil
}

func (s *Store) SetOfferActive(_ context.Context, id int64, active bool) error {
	return s.write(func(st *state) error {
		o, ok := st.offers[id]
		if !ok {
			return coupon.ErrNotFound
		}
		o.Active = active
		st.offers[id] = o
		return nil
	})
}

func (s *Store) CreateCoupon(_ context.Context, c *coupon.Coupon) error {
	return s.write(func(st *state) error {
		for _, existing := range st.coupons {
			if existing.Code == c.Code {
				return coupon.ErrCodeTaken
			}
		}
		c.ID = st.nextID()
		c.CreatedAt = st.now()
		st.coupons[c.ID] = *c
		return nil
	})
}

func (s *Store) GetCoupon(_ context.Context, id int64) (*coupon.Coupon, error) {
	var (
		c  coupon.Coupon
		ok bool
	)
	s.read(func(st *state) { c, ok = st.coupons[id] })
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return &c, nil
}

func (s *Store) SetCouponActive(_ context.Context, id int64, active bool) error {
	return s.write(func(st *state) error {
		c, ok := st.coupons[id]
		if !ok {
			return coupon.ErrNotFound
		}
		c.Active = active
		st.coupons[id] = c
		return nil
	})
}

func (s *Store) CodeExists(_ context.Context, code string) (bool, error) {
	var found bool
	s.read(func(st *state) {
		for _, c := range st.coupons {
			if c.Code == code {
				found = true
				return
			}
		}
	})
	return found, nil
}

func (s *Store) Codes(_ context.Context) ([]string, error) {
	var out []string
	s.read(func(st *state) {
		for _, c := range st.coupons {
			out = append(out, c.Code)
		}
	})
	return out, nil
}

// Invoices.

func (s *state) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	inv.ID = s.nextID()
	inv.CreatedAt = s.now()
	if name, ok := s.users[inv.BuyerID]; ok {
		inv.BuyerName = name
	}
	stored := *inv
	stored.Lines = nil
	s.invoices[inv.ID] = stored
	return nil
}

func (s *state) AddLine(_ context.Context, l *invoice.Line) error {
	inv, ok := s.invoices[l.InvoiceID]
	if !ok {
		return invoice.ErrNotFound
	}
	l.ID = s.nextID()
	inv.Lines = append(inv.Lines, *l)
	s.invoices[l.InvoiceID] = inv
	return nil
}

func (s *state) SetTotal(_ context.Context, invoiceID int64, total decimal.Decimal) error {
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return invoice.ErrNotFound
	}
	inv.Total = total
	s.invoices[invoiceID] = inv
	return nil
}

func (s *state) CartItems(_ context.Context, userID int64) ([]invoice.ItemRequest, error) {
	items := s.carts[userID]
	if len(items) == 0 {
		return nil, invoice.ErrCartEmpty
	}
	return slices.Clone(items), nil
}

func (s *state) ClearCart(_ context.Context, userID int64) error {
	if _, ok := s.carts[userID]; ok {
		s.carts[userID] = nil
	}
	return nil
}

// ListByBuyer returns the buyer's invoices, newest first.
func (s *Store) ListByBuyer(_ context.Context, buyerID int64) ([]invoice.Invoice, error) {
	var out []invoice.Invoice
	s.read(func(st *state) {
		for _, inv := range st.invoices {
			if inv.BuyerID == buyerID {
				inv.BuyerName = st.users[inv.BuyerID]
				inv.Lines = slices.Clone(inv.Lines)
				out = append(out, inv)
			}
		}
	})
	slices.SortFunc(out, func(a, b invoice.Invoice) int { return cmp.Compare(b.ID, a.ID) })
	return out, nil
}

// GetForBuyer returns the invoice when it belongs to buyerID.
func (s *Store) GetForBuyer(_ context.Context, buyerID, id int64) (*invoice.Invoice, error) {
	var (
		inv invoice.Invoice
		ok  bool
	)
	s.read(func(st *state) {
		inv, ok = st.invoices[id]
		inv.BuyerName = st.users[inv.BuyerID]
		inv.Lines = slices.Clone(inv.Lines)
	})
	if !ok || inv.BuyerID != buyerID {
		return nil, invoice.ErrNotFound
	}
	return &inv, nil
}

// Stats aggregates spending of userID as buyer, earnings as seller, and the
// best and worst selling products across all invoices.
func (s *Store) Stats(_ context.Context, userID int64) (*invoice.Stats, error) {
	st := &invoice.Stats{TotalSpent: decimal.Zero, TotalEarned: decimal.Zero}
	sold := map[string]int64{}
	s.read(func(data *state) {
		for _, inv := range data.invoices {
			if inv.BuyerID == userID {
				st.TotalSpent = st.TotalSpent.Add(inv.Total)
			}
			for _, l := range inv.Lines {
				if l.SellerID == userID {
					st.TotalEarned = st.TotalEarned.Add(l.Subtotal)
				}
				sold[l.ProductName] += int64(l.Quantity)
			}
		}
	})

	ranked := make([]invoice.ProductSales, 0, len(sold))
	for name, qty := range sold {
		ranked = append(ranked, invoice.ProductSales{Name: name, Quantity: qty})
	}
	slices.SortFunc(ranked, func(a, b invoice.ProductSales) int {
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(ranked) > 0 {
		most := ranked[0]
		st.MostSold = &most
		least := slices.MinFunc(ranked, func(a, b invoice.ProductSales) int {
			if c := cmp.Compare(a.Quantity, b.Quantity); c != 0 {
				return c
			}
			return cmp.Compare(a.Name, b.Name)
		})
		st.LeastSold = &least
	}
	return st, nil
}

// Notifications.

// Deliver records the event under a fresh id.
func (s *Store) Deliver(_ context.Context, e notify.Event) error {
	return s.write(func(st *state) error {
		e.ID = st.nextID()
		if e.CreatedAt.IsZero() {
			e.CreatedAt = st.now()
		}
		st.notes = append(st.notes, e)
		return nil
	})
}

// ListNotifications returns the events delivered to userID, newest first.
func (s *Store) ListNotifications(_ context.Context, userID int64) ([]notify.Event, error) {
	var out []notify.Event
	s.read(func(st *state) {
		for i := len(st.notes) - 1; i >= 0; i-- {
			if st.notes[i].UserID == userID {
				out = append(out, st.notes[i])
			}
		}
	})
	return out, nil
}

func (s *Store) DeleteNotification(_ context.Context, userID, id int64) error {
	return s.write(func(st *state) error {
		i := slices.IndexFunc(st.notes, func(e notify.Event) bool {
			return e.ID == id && e.UserID == userID
		})
		if i < 0 {
			return notify.ErrNotFound
		}
		st.notes = slices.Delete(st.notes, i, i+1)
		return nil
	})
}
