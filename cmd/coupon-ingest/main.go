// Command coupon-ingest bulk-creates coupons for one seller from a CSV file
// (optionally gzip-compressed). Every row goes through the same validation
// and code generation as the API. Generated codes are written to stdout as
// CSV.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/campeche/checkout/internal/domain/coupon"
	"github.com/campeche/checkout/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		path        string
		sellerID    int64
		workers     int
	)
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&path, "file", "", "CSV with product_id,percentage,min_purchase_amount,start_date,end_date (.csv or .csv.gz)")
	flag.Int64Var(&sellerID, "seller", 0, "id of the seller that owns the products")
	flag.IntVar(&workers, "workers", 8, "concurrent coupon creations")
	flag.Parse()

	lg := zap.Must(zap.NewDevelopment())
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	switch {
	case databaseURL == "":
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	case path == "":
		lg.Fatal("Input file is required: set --file")
	case sellerID <= 0:
		lg.Fatal("Seller is required: set --seller")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, path, sellerID, workers); err != nil {
		lg.Fatal("Coupon ingest failed", zap.Error(err))
	}
	lg.Info("Coupon ingest completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, path string, sellerID int64, workers int) error {
	rows, err := readFile(path)
	if err != nil {
		return err
	}
	lg.Info("Read coupon rows", zap.Int("count", len(rows)))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	store := postgres.New(pool)
	mgr, err := coupon.NewManager(ctx, store, store)
	if err != nil {
		return errors.Wrap(err, "create coupon manager")
	}

	return ingest(ctx, lg, mgr, sellerID, rows, workers, os.Stdout)
}
