package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/campeche/checkout/internal/domain/catalog"
	"github.com/campeche/checkout/internal/domain/coupon"
)

type seedFile struct {
	Users    []userSeed    `json:"users"`
	Products []productSeed `json:"products"`
	Offers   []offerSeed   `json:"offers"`
	Coupons  []couponSeed  `json:"coupons"`
	Grants   []grantSeed   `json:"grants"`
	Carts    []cartSeed    `json:"carts"`
}

type userSeed struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

type productSeed struct {
	Name   string          `json:"name"`
	Seller string          `json:"seller"`
	Price  decimal.Decimal `json:"price"`
	Stock  int             `json:"stock"`
}

type offerSeed struct {
	Product     string          `json:"product"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Percentage  decimal.Decimal `json:"percentage"`
	Start       time.Time       `json:"start_date"`
	End         time.Time       `json:"end_date"`
}

type couponSeed struct {
	Code        string          `json:"code"`
	Product     string          `json:"product"`
	Percentage  decimal.Decimal `json:"percentage"`
	MinPurchase decimal.Decimal `json:"min_purchase_amount"`
	Start       time.Time       `json:"start_date"`
	End         time.Time       `json:"end_date"`
}

type grantSeed struct {
	User string `json:"user"`
	Code string `json:"code"`
}

type cartSeed struct {
	User  string `json:"user"`
	Items []struct {
		Product  string `json:"product"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
}

// seeder is the storage surface used to apply a seed file.
type seeder interface {
	UpsertUser(ctx context.Context, username, email string) (int64, error)
	CreateProduct(ctx context.Context, p *catalog.Product) error
	CreateOffer(ctx context.Context, o *coupon.Offer) error
	CreateCoupon(ctx context.Context, c *coupon.Coupon) error
	GrantOnce(ctx context.Context, g *coupon.Grant) (bool, error)
	PutCartItem(ctx context.Context, userID, productID int64, qty int) error
}

func loadSeed(path string) (*seedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var out seedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return &out, nil
}

// apply writes f in dependency order. Seeded offers and coupons skip the
// creation-time rules so that fixtures may start in the past.
func apply(ctx context.Context, lg *zap.Logger, s seeder, f *seedFile) error {
	users := make(map[string]int64, len(f.Users))
	for _, u := range f.Users {
		id, err := s.UpsertUser(ctx, u.Username, u.Email)
		if err != nil {
			return err
		}
		users[u.Username] = id
	}
	lg.Info("Seeded users", zap.Int("count", len(users)))

	userID := func(name string) (int64, error) {
		id, ok := users[name]
		if !ok {
			return 0, errors.Errorf("unknown user %q", name)
		}
		return id, nil
	}

	products := make(map[string]catalog.Product, len(f.Products))
	for _, ps := range f.Products {
		seller, err := userID(ps.Seller)
		if err != nil {
			return errors.Wrapf(err, "product %q", ps.Name)
		}
		p := catalog.Product{Name: ps.Name, Price: ps.Price, Stock: ps.Stock, SellerID: seller}
		if err := s.CreateProduct(ctx, &p); err != nil {
			return err
		}
		products[p.Name] = p
	}
	lg.Info("Seeded products", zap.Int("count", len(products)))

	product := func(name string) (catalog.Product, error) {
		p, ok := products[name]
		if !ok {
			return catalog.Product{}, errors.Errorf("unknown product %q", name)
		}
		return p, nil
	}

	for _, of := range f.Offers {
		p, err := product(of.Product)
		if err != nil {
			return errors.Wrapf(err, "offer %q", of.Title)
		}
		if err := coupon.ValidatePercentage("percentage", of.Percentage); err != nil {
			return errors.Wrapf(err, "offer %q", of.Title)
		}
		if err := s.CreateOffer(ctx, &coupon.Offer{
			SellerID:    p.SellerID,
			ProductID:   p.ID,
			Title:       of.Title,
			Description: of.Description,
			Percentage:  of.Percentage,
			Active:      true,
			Window:      coupon.Window{Start: of.Start, End: of.End},
		}); err != nil {
			return err
		}
	}
	lg.Info("Seeded offers", zap.Int("count", len(f.Offers)))

	coupons := make(map[string]coupon.Coupon, len(f.Coupons))
	for _, cs := range f.Coupons {
		p, err := product(cs.Product)
		if err != nil {
			return errors.Wrapf(err, "coupon %q", cs.Code)
		}
		code := strings.ToUpper(cs.Code)
		if !coupon.ValidCode(code) {
			return errors.Errorf("coupon %q: code must be %d letters or digits", cs.Code, coupon.CodeLength)
		}
		if err := coupon.ValidatePercentage("percentage", cs.Percentage); err != nil {
			return errors.Wrapf(err, "coupon %q", cs.Code)
		}
		c := coupon.Coupon{
			SellerID:    p.SellerID,
			ProductID:   p.ID,
			Code:        code,
			Percentage:  cs.Percentage,
			MinPurchase: cs.MinPurchase,
			Active:      true,
			Window:      coupon.Window{Start: cs.Start, End: cs.End},
		}
		if err := s.CreateCoupon(ctx, &c); err != nil {
			return errors.Wrapf(err, "coupon %q", cs.Code)
		}
		coupons[code] = c
	}
	lg.Info("Seeded coupons", zap.Int("count", len(coupons)))

	var granted int
	for _, gs := range f.Grants {
		uid, err := userID(gs.User)
		if err != nil {
			return errors.Wrapf(err, "grant %q", gs.Code)
		}
		c, ok := coupons[strings.ToUpper(gs.Code)]
		if !ok {
			return errors.Errorf("grant: unknown coupon %q", gs.Code)
		}
		created, err := s.GrantOnce(ctx, &coupon.Grant{
			UserID:    uid,
			CouponID:  c.ID,
			ProductID: c.ProductID,
			SellerID:  c.SellerID,
		})
		if err != nil {
			return err
		}
		if !created {
			lg.Warn("Grant skipped, user already holds one for this product",
				zap.String("user", gs.User),
				zap.String("code", c.Code),
			)
			continue
		}
		granted++
	}
	lg.Info("Seeded grants", zap.Int("count", granted))

	for _, cs := range f.Carts {
		uid, err := userID(cs.User)
		if err != nil {
			return errors.Wrap(err, "cart")
		}
		for _, it := range cs.Items {
			p, err := product(it.Product)
			if err != nil {
				return errors.Wrapf(err, "cart of %q", cs.User)
			}
			if err := s.PutCartItem(ctx, uid, p.ID, it.Quantity); err != nil {
				return err
			}
		}
	}
	lg.Info("Seeded carts", zap.Int("count", len(f.Carts)))
	return nil
}
