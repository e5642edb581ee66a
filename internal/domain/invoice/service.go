package invoice

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/campeche/checkout/internal/domain/catalog"
	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/domain/eligibility"
	"github.com/campeche/checkout/internal/domain/notify"
)

const instrumentationName = "github.com/campeche/checkout/internal/domain/invoice"

// Granter runs the coupon eligibility rules for a committed line.
type Granter interface {
	Evaluate(ctx context.Context, line eligibility.Line) ([]coupon.Grant, error)
}

// Option configures a Service.
type Option func(*Service)

// WithMeterProvider sets the meter provider used for checkout metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// WithTracerProvider sets the tracer provider used for checkout spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithResolver replaces the default discount resolver.
func WithResolver(r *coupon.Resolver) Option {
	return func(s *Service) { s.resolver = r }
}

// Service builds invoices. Every checkout runs in a single transaction that
// covers validation, stock decrement, grant redemption and total persistence.
// Coupon grants and notifications happen only after commit.
type Service struct {
	store    Store
	resolver *coupon.Resolver
	grants   Granter
	pub      notify.Publisher
	now      func() time.Time

	meterProvider metric.MeterProvider
	tracer        trace.Tracer
	created       metric.Int64Counter
	failed        metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewService creates an invoice Service. grants and pub may be nil.
func NewService(store Store, grants Granter, pub notify.Publisher, opts ...Option) (*Service, error) {
	s := &Service{
		store:         store,
		resolver:      coupon.NewResolver(),
		grants:        grants,
		pub:           pub,
		now:           time.Now,
		meterProvider: metricnoop.NewMeterProvider(),
		tracer:        tracenoop.NewTracerProvider().Tracer(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	meter := s.meterProvider.Meter(instrumentationName)
	var err error
	if s.created, err = meter.Int64Counter("checkout.invoices",
		metric.WithDescription("Invoices committed"),
	); err != nil {
		return nil, errors.Wrap(err, "create invoices counter")
	}
	if s.failed, err = meter.Int64Counter("checkout.failures",
		metric.WithDescription("Checkouts rolled back or rejected"),
	); err != nil {
		return nil, errors.Wrap(err, "create failures counter")
	}
	if s.duration, err = meter.Float64Histogram("checkout.duration",
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "create duration histogram")
	}
	return s, nil
}

// Create checks out an explicit list of items.
func (s *Service) Create(ctx context.Context, req CreateRequest) (_ *Invoice, rerr error) {
	ctx, span := s.tracer.Start(ctx, "invoice.Create",
		trace.WithAttributes(attribute.Int("items", len(req.Items))),
	)
	defer s.finish(ctx, span, s.now(), "items", &rerr)

	if err := validate(req.Method, req.Items); err != nil {
		return nil, err
	}

	var inv *Invoice
	if err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inv, err = s.build(ctx, tx, req.Buyer, req.Method, req.Items)
		return err
	}); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, inv)
	return inv, nil
}

// CreateFromCart checks out the buyer's persisted cart and empties it in the
// same transaction. An empty method defaults to cash.
func (s *Service) CreateFromCart(ctx context.Context, buyer Buyer, method Method) (_ *Invoice, rerr error) {
	ctx, span := s.tracer.Start(ctx, "invoice.CreateFromCart")
	defer s.finish(ctx, span, s.now(), "cart", &rerr)

	if method == "" {
		method = MethodCash
	}
	if !method.Valid() {
		return nil, ErrInvalidMethod
	}

	var inv *Invoice
	if err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		items, err := tx.CartItems(ctx, buyer.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrCartEmpty
		}
		if err := validate(method, items); err != nil {
			return err
		}
		if inv, err = s.build(ctx, tx, buyer, method, items); err != nil {
			return err
		}
		if err := tx.ClearCart(ctx, buyer.ID); err != nil {
			return errors.Wrap(err, "clear cart")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.afterCommit(ctx, inv)
	return inv, nil
}

// List returns the buyer's invoices, newest first.
func (s *Service) List(ctx context.Context, buyerID int64) ([]Invoice, error) {
	invoices, err := s.store.ListByBuyer(ctx, buyerID)
	if err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	return invoices, nil
}

// Get returns one of the buyer's invoices.
func (s *Service) Get(ctx context.Context, buyerID, id int64) (*Invoice, error) {
	inv, err := s.store.GetForBuyer(ctx, buyerID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get invoice")
	}
	return inv, nil
}

// Stats returns the user's spending, earnings and best/worst selling products.
func (s *Service) Stats(ctx context.Context, userID int64) (*Stats, error) {
	st, err := s.store.Stats(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "invoice stats")
	}
	return st, nil
}

func validate(method Method, items []ItemRequest) error {
	if len(items) == 0 {
		return ErrEmptyItems
	}
	if !method.Valid() {
		return ErrInvalidMethod
	}
	for i, it := range items {
		if it.Quantity <= 0 {
			return &LineError{Index: i, ProductID: it.ProductID, Err: ErrInvalidQuantity}
		}
	}
	return nil
}

// build runs inside the checkout transaction. All lines are validated and
// priced before the first write.
func (s *Service) build(ctx context.Context, tx Tx, buyer Buyer, method Method, items []ItemRequest) (*Invoice, error) {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locked, err := tx.LockByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	products := make(map[int64]catalog.Product, len(locked))
	for _, p := range locked {
		products[p.ID] = p
	}

	// Stock is checked against the total requested per product, so two lines
	// of the same product cannot jointly oversell it.
	requested := make(map[int64]int, len(ids))
	for i, it := range items {
		p, ok := products[it.ProductID]
		if !ok {
			return nil, &LineError{Index: i, ProductID: it.ProductID, Err: ErrProductNotFound}
		}
		requested[p.ID] += it.Quantity
		if requested[p.ID] > p.Stock {
			return nil, &LineError{Index: i, ProductID: p.ID, Err: ErrInsufficientStock}
		}
	}

	priced := make([]*coupon.Resolution, len(items))
	for i, it := range items {
		p := products[it.ProductID]
		res, err := s.resolver.Resolve(ctx, tx, coupon.Input{
			BuyerID:    buyer.ID,
			ProductID:  p.ID,
			UnitPrice:  p.Price,
			Quantity:   it.Quantity,
			CouponCode: it.CouponCode,
		})
		if err != nil {
			return nil, &LineError{Index: i, ProductID: p.ID, Err: err}
		}
		priced[i] = res
	}

	inv := &Invoice{
		BuyerID:   buyer.ID,
		BuyerName: buyer.Username,
		Method:    method,
		Total:     decimal.Zero,
	}
	if err := tx.CreateInvoice(ctx, inv); err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}

	total := decimal.Zero
	inv.Lines = make([]Line, 0, len(items))
	for i, it := range items {
		p := products[it.ProductID]
		res := priced[i]

		if res.Grant != nil {
			if err := tx.RedeemGrant(ctx, res.Grant.ID); err != nil {
				return nil, &LineError{Index: i, ProductID: p.ID, Err: err}
			}
		}
		if err := tx.DecrementStock(ctx, p.ID, it.Quantity); err != nil {
			return nil, &LineError{Index: i, ProductID: p.ID, Err: err}
		}

		line := Line{
			InvoiceID:   inv.ID,
			ProductID:   p.ID,
			ProductName: p.Name,
			SellerID:    p.SellerID,
			SellerName:  p.SellerName,
			Quantity:    it.Quantity,
			UnitPrice:   res.UnitPrice,
			Subtotal:    res.Subtotal,
		}
		if res.Offer != nil {
			line.OfferID = &res.Offer.ID
		}
		if res.Coupon != nil {
			line.CouponID = &res.Coupon.ID
		}
		if err := tx.AddLine(ctx, &line); err != nil {
			return nil, errors.Wrapf(err, "add line %d", i)
		}
		inv.Lines = append(inv.Lines, line)
		total = total.Add(line.Subtotal)
	}

	inv.Total = total
	if err := tx.SetTotal(ctx, inv.ID, total); err != nil {
		return nil, errors.Wrap(err, "set total")
	}
	return inv, nil
}

// afterCommit runs the eligibility engine and publishes notifications. It is
// detached from the request context: the invoice is already durable and
// these side effects must not be cut short by a disconnecting client.
func (s *Service) afterCommit(ctx context.Context, inv *Invoice) {
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx)

	if s.grants != nil {
		for _, l := range inv.Lines {
			if _, err := s.grants.Evaluate(ctx, eligibility.Line{
				BuyerID:   inv.BuyerID,
				ProductID: l.ProductID,
				Subtotal:  l.Subtotal,
			}); err != nil {
				lg.Warn("Coupon eligibility failed",
					zap.Int64("invoice_id", inv.ID),
					zap.Int64("product_id", l.ProductID),
					zap.Error(err),
				)
			}
		}
	}

	if s.pub == nil {
		return
	}
	invoiceID := strconv.FormatInt(inv.ID, 10)
	for _, l := range inv.Lines {
		s.pub.Publish(ctx, notify.Event{
			Type:    notify.TypeSale,
			UserID:  l.SellerID,
			Title:   "New sale",
			Message: fmt.Sprintf("%s bought %d x %s", inv.BuyerName, l.Quantity, l.ProductName),
			Data: map[string]string{
				"invoice_id": invoiceID,
				"product_id": strconv.FormatInt(l.ProductID, 10),
				"quantity":   strconv.Itoa(l.Quantity),
				"subtotal":   l.Subtotal.StringFixed(2),
			},
		})
	}
	s.pub.Publish(ctx, notify.Event{
		Type:    notify.TypePurchase,
		UserID:  inv.BuyerID,
		Title:   "Purchase completed",
		Message: fmt.Sprintf("Invoice #%d for %s", inv.ID, inv.Total.StringFixed(2)),
		Data: map[string]string{
			"invoice_id": invoiceID,
			"total":      inv.Total.StringFixed(2),
			"method":     string(inv.Method),
		},
	})
}

func (s *Service) finish(ctx context.Context, span trace.Span, start time.Time, source string, errp *error) {
	attrs := metric.WithAttributes(attribute.String("source", source))
	s.duration.Record(ctx, s.now().Sub(start).Seconds(), attrs)

	if err := *errp; err != nil {
		s.failed.Add(ctx, 1, attrs)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		s.created.Add(ctx, 1, attrs)
	}
	span.End()
}
