package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/campeche/checkout/internal/domain/coupon"
)

var header = []string{"product_id", "percentage", "min_purchase_amount", "start_date", "end_date"}

// row is one input line. Line numbers are 1-based and count the header.
type row struct {
	Line  int
	Input coupon.CouponInput
}

// creator is the part of coupon.Manager used here.
type creator interface {
	CreateCoupon(ctx context.Context, sellerID int64, in coupon.CouponInput) (*coupon.Coupon, error)
}

func readFile(path string) ([]row, error) {
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
	rows, err := readRows(r)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return rows, nil
}

// readRows parses the CSV input. Empty start dates mean "now"; empty minimum
// purchase amounts mean zero.
func readRows(r io.Reader) ([]row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.TrimLeadingSpace = true

	first, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	for i, name := range header {
		if strings.TrimSpace(first[i]) != name {
			return nil, errors.Errorf("header column %d: want %q, got %q", i+1, name, first[i])
		}
	}

	var rows []row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		in, err := parseRecord(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		rows = append(rows, row{Line: line, Input: in})
	}
}

func parseRecord(rec []string) (coupon.CouponInput, error) {
	var (
		in  coupon.CouponInput
		err error
	)
	if in.ProductID, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
		return in, errors.Wrap(err, "product_id")
	}
	if in.Percentage, err = decimal.NewFromString(rec[1]); err != nil {
		return in, errors.Wrap(err, "percentage")
	}
	in.MinPurchase = decimal.Zero
	if rec[2] != "" {
		if in.MinPurchase, err = decimal.NewFromString(rec[2]); err != nil {
			return in, errors.Wrap(err, "min_purchase_amount")
		}
	}
	if rec[3] != "" {
		if in.Start, err = time.Parse(time.RFC3339, rec[3]); err != nil {
			return in, errors.Wrap(err, "start_date")
		}
	}
	if in.End, err = time.Parse(time.RFC3339, rec[4]); err != nil {
		return in, errors.Wrap(err, "end_date")
	}
	return in, nil
}

// ingest creates one coupon per row with at most workers in flight. Rows
// rejected by validation are logged and skipped; any other error aborts the
// run. Results are written to out as line,product_id,code.
func ingest(ctx context.Context, lg *zap.Logger, c creator, sellerID int64, rows []row, workers int, out io.Writer) error {
	codes := make([]string, len(rows))
	var rejected atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, r := range rows {
		g.Go(func() error {
			created, err := c.CreateCoupon(ctx, sellerID, r.Input)
			var valErr *coupon.ValidationError
			switch {
			case err == nil:
				codes[i] = created.Code
				return nil
			case errors.As(err, &valErr), errors.Is(err, coupon.ErrForbidden):
				rejected.Add(1)
				lg.Warn("Row rejected", zap.Int("line", r.Line), zap.Error(err))
				return nil
			default:
				return errors.Wrapf(err, "line %d", r.Line)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	w := csv.NewWriter(out)
	if err := w.Write([]string{"line", "product_id", "code"}); err != nil {
		return err
	}
	for i, r := range rows {
		if codes[i] == "" {
			continue
		}
		if err := w.Write([]string{
			strconv.Itoa(r.Line),
			strconv.FormatInt(r.Input.ProductID, 10),
			codes[i],
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrap(err, "write codes")
	}

	lg.Info("Coupons created",
		zap.Int("created", len(rows)-int(rejected.Load())),
		zap.Int64("rejected", rejected.Load()),
	)
	return nil
}
