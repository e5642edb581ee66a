package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/campeche/checkout/internal/domain/invoice"
)

const (
	insertInvoiceSQL = `WITH ins AS (
			INSERT INTO invoices (buyer_id, method, total)
			VALUES ($1, $2, $3)
			RETURNING id, created_at, buyer_id
		)
		SELECT ins.id, ins.created_at, u.username
		FROM ins JOIN users u ON u.id = ins.buyer_id`

	insertLineSQL = `INSERT INTO invoice_lines
		(invoice_id, product_id, seller_id, quantity, unit_price, subtotal, offer_id, coupon_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	setTotalSQL = `UPDATE invoices SET total = $2 WHERE id = $1`

	invoiceColumns = `i.id, i.buyer_id, u.username, i.method, i.total, i.created_at`

	listInvoicesSQL = `SELECT ` + invoiceColumns + `
		FROM invoices i JOIN users u ON u.id = i.buyer_id
		WHERE i.buyer_id = $1
		ORDER BY i.created_at DESC, i.id DESC`

	getInvoiceSQL = `SELECT ` + invoiceColumns + `
		FROM invoices i JOIN users u ON u.id = i.buyer_id
		WHERE i.id = $1 AND i.buyer_id = $2`

	linesSQL = `SELECT l.id, l.invoice_id, l.product_id, p.name, l.seller_id, s.username,
			l.quantity, l.unit_price, l.subtotal, l.offer_id, l.coupon_id
		FROM invoice_lines l
		JOIN products p ON p.id = l.product_id
		JOIN users s ON s.id = l.seller_id
		WHERE l.invoice_id = ANY($1)
		ORDER BY l.id`

	totalSpentSQL = `SELECT COALESCE(SUM(total), 0) FROM invoices WHERE buyer_id = $1`

	totalEarnedSQL = `SELECT COALESCE(SUM(subtotal), 0) FROM invoice_lines WHERE seller_id = $1`

	mostSoldSQL = `SELECT p.name, SUM(l.quantity)::BIGINT AS sold
		FROM invoice_lines l JOIN products p ON p.id = l.product_id
		GROUP BY p.name
		ORDER BY sold DESC, p.name
		LIMIT 1`

	leastSoldSQL = `SELECT p.name, SUM(l.quantity)::BIGINT AS sold
		FROM invoice_lines l JOIN products p ON p.id = l.product_id
		GROUP BY p.name
		ORDER BY sold ASC, p.name
		LIMIT 1`
)

func (q *queries) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	err := q.db.QueryRow(ctx, insertInvoiceSQL, inv.BuyerID, string(inv.Method), inv.Total).
		Scan(&inv.ID, &inv.CreatedAt, &inv.BuyerName)
	if err != nil {
		return fmt.Errorf("creating invoice for buyer %d: %w", inv.BuyerID, err)
	}
	return nil
}

func (q *queries) AddLine(ctx context.Context, l *invoice.Line) error {
	err := q.db.QueryRow(ctx, insertLineSQL,
		l.InvoiceID, l.ProductID, l.SellerID, l.Quantity, l.UnitPrice, l.Subtotal, l.OfferID, l.CouponID,
	).Scan(&l.ID)
	if err != nil {
		return fmt.Errorf("adding line for product %d to invoice %d: %w", l.ProductID, l.InvoiceID, err)
	}
	return nil
}

func (q *queries) SetTotal(ctx context.Context, invoiceID int64, total decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, setTotalSQL, invoiceID, total)
	if err != nil {
		return fmt.Errorf("setting total of invoice %d: %w", invoiceID, err)
	}
	if tag.RowsAffected() == 0 {
		return invoice.ErrNotFound
	}
	return nil
}

// ListByBuyer returns the buyer's invoices with their lines, newest first.
func (q *queries) ListByBuyer(ctx context.Context, buyerID int64) ([]invoice.Invoice, error) {
	rows, err := q.db.Query(ctx, listInvoicesSQL, buyerID)
	if err != nil {
		return nil, fmt.Errorf("listing invoices of buyer %d: %w", buyerID, err)
	}
	invoices, err := pgx.CollectRows(rows, scanInvoice)
	if err != nil {
		return nil, fmt.Errorf("listing invoices of buyer %d: %w", buyerID, err)
	}
	if err := q.attachLines(ctx, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetForBuyer returns the invoice only when buyerID owns it.
func (q *queries) GetForBuyer(ctx context.Context, buyerID, id int64) (*invoice.Invoice, error) {
	rows, err := q.db.Query(ctx, getInvoiceSQL, id, buyerID)
	if err != nil {
		return nil, fmt.Errorf("getting invoice %d: %w", id, err)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, fmt.Errorf("getting invoice %d: %w", id, err)
	}

	list := []invoice.Invoice{inv}
	if err := q.attachLines(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (q *queries) attachLines(ctx context.Context, invoices []invoice.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]int64, len(invoices))
	index := make(map[int64]int, len(invoices))
	for i, inv := range invoices {
		ids[i] = inv.ID
		index[inv.ID] = i
	}

	rows, err := q.db.Query(ctx, linesSQL, ids)
	if err != nil {
		return fmt.Errorf("listing invoice lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanLine)
	if err != nil {
		return fmt.Errorf("listing invoice lines: %w", err)
	}
	for _, l := range lines {
		i := index[l.InvoiceID]
		invoices[i].Lines = append(invoices[i].Lines, l)
	}
	return nil
}

// Stats aggregates the user's spending and earnings together with the best
// and worst selling products across all invoices.
func (q *queries) Stats(ctx context.Context, userID int64) (*invoice.Stats, error) {
	st := &invoice.Stats{}
	if err := q.db.QueryRow(ctx, totalSpentSQL, userID).Scan(&st.TotalSpent); err != nil {
		return nil, fmt.Errorf("summing spending of user %d: %w", userID, err)
	}
	if err := q.db.QueryRow(ctx, totalEarnedSQL, userID).Scan(&st.TotalEarned); err != nil {
		return nil, fmt.Errorf("summing earnings of user %d: %w", userID, err)
	}

	var err error
	if st.MostSold, err = q.productSales(ctx, mostSoldSQL); err != nil {
		return nil, fmt.Errorf("finding most sold product: %w", err)
	}
	if st.LeastSold, err = q.productSales(ctx, leastSoldSQL); err != nil {
		return nil, fmt.Errorf("finding least sold product: %w", err)
	}
	return st, nil
}

func (q *queries) productSales(ctx context.Context, sql string) (*invoice.ProductSales, error) {
	var ps invoice.ProductSales
	if err := q.db.QueryRow(ctx, sql).Scan(&ps.Name, &ps.Quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ps, nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var (
		inv    invoice.Invoice
		method string
	)
	err := row.Scan(&inv.ID, &inv.BuyerID, &inv.BuyerName, &method, &inv.Total, &inv.CreatedAt)
	inv.Method = invoice.Method(method)
	return inv, err
}

func scanLine(row pgx.CollectableRow) (invoice.Line, error) {
	var l invoice.Line
	err := row.Scan(
		&l.ID, &l.InvoiceID, &l.ProductID, &l.ProductName, &l.SellerID, &l.SellerName,
		&l.Quantity, &l.UnitPrice, &l.Subtotal, &l.OfferID, &l.CouponID,
	)
	return l, err
}
