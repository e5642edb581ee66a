package coupon

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campeche/checkout/internal/domain/catalog"
)

type mockStore struct {
	offers      map[int64]*Offer
	coupons     map[int64]*Coupon
	takenCodes  map[string]bool
	conflictsOn map[string]bool
	nextID      int64
}

func newMockStore() *mockStore {
	return &mockStore{
		offers:      map[int64]*Offer{},
		coupons:     map[int64]*Coupon{},
		takenCodes:  map[string]bool{},
		conflictsOn: map[string]bool{},
	}
}

func (m *mockStore) CreateOffer(_ context.Context, o *Offer) error {
	m.nextID++
	o.ID = m.nextID
	cp := *o
	m.offers[o.ID] = &cp
	return nil
}

func (m *mockStore) GetOffer(_ context.Context, id int64) (*Offer, error) {
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockStore) SetOfferActive(_ context.Context, id int64, active bool) error {
	m.offers[id].Active = active
	return nil
}

func (m *mockStore) CreateCoupon(_ context.Context, c *Coupon) error {
	if m.takenCodes[c.Code] || m.conflictsOn[c.Code] {
		return ErrCodeTaken
	}
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.coupons[c.ID] = &cp
	m.takenCodes[c.Code] = true
	return nil
}

func (m *mockStore) GetCoupon(_ context.Context, id int64) (*Coupon, error) {
	c, ok := m.coupons[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) SetCouponActive(_ context.Context, id int64, active bool) error {
	m.coupons[id].Active = active
	return nil
}

func (m *mockStore) CodeExists(_ context.Context, code string) (bool, error) {
	return m.takenCodes[code], nil
}

func (m *mockStore) Codes(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(m.takenCodes))
	for c := range m.takenCodes {
		out = append(out, c)
	}
	return out, nil
}

type mockProducts map[int64]*catalog.Product

func (m mockProducts) GetByID(_ context.Context, id int64) (*catalog.Product, error) {
	p, ok := m[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

func newTestManager(t *testing.T, store *mockStore, now time.Time) *Manager {
	t.Helper()
	products := mockProducts{
		1: {ID: 1, Name: "Mango", Price: dec("10"), Stock: 5, SellerID: 2},
	}
	m, err := NewManager(context.Background(), store, products)
	require.NoError(t, err)
	m.now = func() time.Time { return now }
	return m
}

func TestManager_CreateOffer(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	valid := OfferInput{
		ProductID:   1,
		Title:       "Summer",
		Description: "20% off mangoes",
		Percentage:  dec("20"),
		Start:       now.Add(time.Hour),
		End:         now.Add(48 * time.Hour),
	}

	tests := []struct {
		name      string
		seller    int64
		mutate    func(in *OfferInput)
		wantField string
		wantErr   error
	}{
		{name: "valid"},
		{name: "zero start means now", mutate: func(in *OfferInput) { in.Start = time.Time{} }},
		{name: "missing title", mutate: func(in *OfferInput) { in.Title = "" }, wantField: "title"},
		{name: "missing description", mutate: func(in *OfferInput) { in.Description = "" }, wantField: "description"},
		{name: "percentage below 1", mutate: func(in *OfferInput) { in.Percentage = dec("0.5") }, wantField: "percentage"},
		{name: "percentage above 100", mutate: func(in *OfferInput) { in.Percentage = dec("100.01") }, wantField: "percentage"},
		{name: "three decimals", mutate: func(in *OfferInput) { in.Percentage = dec("12.345") }, wantField: "percentage"},
		{name: "start in the past", mutate: func(in *OfferInput) { in.Start = now.Add(-time.Minute) }, wantField: "start_date"},
		{name: "end before start", mutate: func(in *OfferInput) { in.End = now }, wantField: "end_date"},
		{name: "unknown product", mutate: func(in *OfferInput) { in.ProductID = 99 }, wantField: "product"},
		{name: "not the owner", seller: 3, wantErr: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, newMockStore(), now)
			in := valid
			if tt.mutate != nil {
				tt.mutate(&in)
			}
			seller := tt.seller
			if seller == 0 {
				seller = 2
			}

			o, err := m.CreateOffer(context.Background(), seller, in)
			switch {
			case tt.wantField != "":
				var vErr *ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Equal(t, tt.wantField, vErr.Field)
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.NotZero(t, o.ID)
				assert.True(t, o.Active)
				assert.Equal(t, int64(2), o.SellerID)
			}
		})
	}
}

func TestManager_CreateCoupon_RetriesOnCodeConflict(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	m := newTestManager(t, store, now)

	// Deterministic randomness: the first code collides at insert time.
	first := bytes.Repeat([]byte{0}, CodeLength*2)  // "AAAAAA"
	second := bytes.Repeat([]byte{1}, CodeLength*2) // "BBBBBB"
	m.codes.rand = bytes.NewReader(append(first, second...))
	store.conflictsOn["AAAAAA"] = true

	c, err := m.CreateCoupon(context.Background(), 2, CouponInput{
		ProductID:   1,
		Percentage:  dec("10"),
		MinPurchase: dec("50"),
		End:         now.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", c.Code)
	assert.True(t, ValidCode(c.Code))
	assert.Equal(t, now, c.Window.Start)
}

func TestManager_CreateCoupon_NegativeMinimum(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, newMockStore(), now)

	_, err := m.CreateCoupon(context.Background(), 2, CouponInput{
		ProductID:   1,
		Percentage:  dec("10"),
		MinPurchase: dec("-1"),
		End:         now.Add(time.Hour),
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "min_purchase_amount", vErr.Field)
}

func TestManager_SetCouponActive(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	m := newTestManager(t, store, now)

	c, err := m.CreateCoupon(context.Background(), 2, CouponInput{
		ProductID:  1,
		Percentage: dec("15"),
		End:        now.Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = m.SetCouponActive(context.Background(), 3, c.ID, false)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = m.SetCouponActive(context.Background(), 2, 999, false)
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := m.SetCouponActive(context.Background(), 2, c.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.False(t, store.coupons[c.ID].Active)
}

func TestManager_SetOfferActive(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	store := newMockStore()
	m := newTestManager(t, store, now)

	o, err := m.CreateOffer(context.Background(), 2, OfferInput{
		ProductID: 1, Title: "t", Description: "d", Percentage: dec("5"), End: now.Add(time.Hour),
	})
	require.NoError(t, err)

	updated, err := m.SetOfferActive(context.Background(), 2, o.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.False(t, store.offers[o.ID].Active)
}
