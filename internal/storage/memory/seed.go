package memory

import (
	"time"

	"github.com/campeche/checkout/internal/domain/catalog"
	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/invoice"
)

// SetClock replaces the clock used for created_at and assigned_at stamps.
func (s *Store) SetClock(now func() time.Time) {
	_ = s.write(func(st *state) error {
		st.now = now
		return nil
	})
}

// AddUser registers a username for id.
func (s *Store) AddUser(id int64, username string) {
	_ = s.write(func(st *state) error {
		st.users[id] = username
		if id > st.seq {
			st.seq = id
		}
		return nil
	})
}

// AddProduct inserts or replaces a product. A zero ID is assigned.
func (s *Store) AddProduct(p catalog.Product) catalog.Product {
	_ = s.write(func(st *state) error {
		if p.ID == 0 {
			p.ID = st.nextID()
		} else if p.ID > st.seq {
			st.seq = p.ID
		}
		st.products[p.ID] = p
		return nil
	})
	return p
}

// Product returns the stored product, including current stock.
func (s *Store) Product(id int64) (catalog.Product, bool) {
	var (
		p  catalog.Product
		ok bool
	)
	s.read(func(st *state) { p, ok = st.products[id] })
	return p, ok
}

// AddOffer stores o as is, bypassing creation-time validation.
func (s *Store) AddOffer(o coupon.Offer) coupon.Offer {
	_ = s.write(func(st *state) error {
		o.ID = st.nextID()
		st.offers[o.ID] = o
		return nil
	})
	return o
}

// AddCoupon stores c as is, bypassing creation-time validation.
func (s *Store) AddCoupon(c coupon.Coupon) coupon.Coupon {
	_ = s.write(func(st *state) error {
		c.ID = st.nextID()
		st.coupons[c.ID] = c
		return nil
	})
	return c
}

// AddGrant assigns a coupon to a user.
func (s *Store) AddGrant(userID int64, c coupon.Coupon) coupon.Grant {
	g := coupon.Grant{UserID: userID, CouponID: c.ID, ProductID: c.ProductID, SellerID: c.SellerID}
	_ = s.write(func(st *state) error {
		st.grantOnce(&g)
		return nil
	})
	return g
}

// SetCart replaces the user's cart.
func (s *Store) SetCart(userID int64, items []invoice.ItemRequest) {
	_ = s.write(func(st *state) error {
		st.carts[userID] = items
		return nil
	})
}

// Cart returns the user's cart items.
func (s *Store) Cart(userID int64) []invoice.ItemRequest {
	var out []invoice.ItemRequest
	s.read(func(st *state) { out = append(out, st.carts[userID]...) })
	return out
}
