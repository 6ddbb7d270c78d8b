package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/offer"
	"github.com/xenking/storefront/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, code, status, sub_total, discount, total_price,
		note, payment_method, address, customer_id, special_offer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	createDetailSQL = `INSERT INTO order_details (id, order_id, product_id, variant_id, quantity, price, product)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	reserveStockSQL = `UPDATE product_variants SET quantity = quantity - $2
		WHERE id = $1 AND quantity >= $2`

	consumeOfferSQL = `UPDATE special_offers
		SET used_quantity = used_quantity + $2, total_quantity = total_quantity - $2
		WHERE id = $1 AND deleted_at IS NULL AND total_quantity - used_quantity >= $2
		RETURNING ` + offerColumns

	offerExistsSQL = `SELECT EXISTS (SELECT 1 FROM special_offers WHERE id = $1 AND deleted_at IS NULL)`
)

var _ order.Transactor = (*Transactor)(nil)

// Transactor runs order placement writes in a PostgreSQL transaction.
type Transactor struct {
	pool *pgxpool.Pool
}

// NewTransactor returns a Transactor that uses the given pool.
func NewTransactor(pool *pgxpool.Pool) *Transactor {
	return &Transactor{pool: pool}
}

// WithinTx begins a transaction, passes a Writer bound to it to fn and
// commits if fn succeeds. The transaction is rolled back on any error,
// including a cancelled ctx.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context, w order.Writer) error) (rerr error) {
	tx, err := t.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rerr != nil {
			// Rollback must run even when ctx is already cancelled.
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(ctx, &txWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

var _ order.Writer = (*txWriter)(nil)

type txWriter struct {
	tx pgx.Tx
}

func (w *txWriter) CreateOrder(ctx context.Context, o *order.Order) error {
	addressJSON, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshaling shipping address: %w", err)
	}

	_, err = w.tx.Exec(ctx, createOrderSQL,
		o.ID, o.Code, string(o.Status), o.SubTotal, o.Discount, o.TotalPrice,
		o.Note, o.PaymentMethod, addressJSON, o.CustomerID, o.SpecialOfferID,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (w *txWriter) CreateDetails(ctx context.Context, details []order.Detail) error {
	if len(details) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range details {
		snapshot, err := json.Marshal(d.Product)
		if err != nil {
			return fmt.Errorf("marshaling snapshot of variant %q: %w", d.VariantID, err)
		}
		batch.Queue(createDetailSQL, d.ID, d.OrderID, d.ProductID, d.VariantID, d.Quantity, d.Price, snapshot)
	}

	results := w.tx.SendBatch(ctx, batch)
	defer results.Close()

	for _, d := range details {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("creating order detail for variant %q: %w", d.VariantID, err)
		}
	}
	return results.Close()
}

func (w *txWriter) ReserveStock(ctx context.Context, variantID string, quantity int) error {
	tag, err := w.tx.Exec(ctx, reserveStockSQL, variantID, quantity)
	if err != nil {
		return fmt.Errorf("reserving stock of variant %q: %w", variantID, err)
	}
	if tag.RowsAffected() == 0 {
		return &order.OutOfStockError{VariantID: variantID}
	}
	return nil
}

func (w *txWriter) ConsumeOffer(ctx context.Context, offerID string, quantity int) (*offer.SpecialOffer, error) {
	rows, err := w.tx.Query(ctx, consumeOfferSQL, offerID, quantity)
	if err != nil {
		return nil, fmt.Errorf("consuming offer %q: %w", offerID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	switch {
	case err == nil:
		return &o, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("consuming offer %q: %w", offerID, err)
	}

	var exists bool
	if err := w.tx.QueryRow(ctx, offerExistsSQL, offerID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking offer %q: %w", offerID, err)
	}
	if !exists {
		return nil, &offer.NotFoundError{OfferID: offerID}
	}
	return nil, &offer.ExhaustedError{OfferID: offerID}
}
