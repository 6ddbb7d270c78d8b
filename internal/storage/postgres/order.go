package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	getOrderSQL = `SELECT id, code, status, sub_total, discount, total_price, note,
		payment_method, address, customer_id, special_offer_id, created_at, updated_at
		FROM orders WHERE id = $1 AND deleted_at IS NULL`

	getOrderDetailsSQL = `SELECT id, order_id, product_id, variant_id, quantity, price, product
		FROM order_details WHERE order_id = $1 ORDER BY id`

	summaryColumns = `o.id, o.code, o.status, o.sub_total, o.discount, o.total_price,
		o.payment_method, TRIM(c.first_name || ' ' || c.last_name), o.created_at`

	listByCustomerSQL = `SELECT ` + summaryColumns + `
		FROM orders o JOIN customers c ON c.id = o.customer_id
		WHERE o.customer_id = $1 AND o.deleted_at IS NULL
		ORDER BY o.created_at DESC
		OFFSET $2 LIMIT $3`

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`

	statisticsSQL = `SELECT
		count(*),
		COALESCE(SUM(sub_total) FILTER (WHERE status = $3), 0),
		COALESCE(SUM(total_price) FILTER (WHERE status = $3), 0)
		FROM orders
		WHERE deleted_at IS NULL AND created_at BETWEEN $1 AND $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// GetByID returns a non-deleted order with its details.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, []order.Detail, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, order.ErrOrderNotFound
		}
		return nil, nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	rows, err = r.pool.Query(ctx, getOrderDetailsSQL, id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting details of order %q: %w", id, err)
	}
	details, err := pgx.CollectRows(rows, scanDetail)
	if err != nil {
		return nil, nil, fmt.Errorf("getting details of order %q: %w", id, err)
	}

	return &o, details, nil
}

// ListByCustomer returns a page of the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, page order.Page) ([]order.Summary, error) {
	rows, err := r.pool.Query(ctx, listByCustomerSQL, customerID, page.Skip, page.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %q: %w", customerID, err)
	}
	return pgx.CollectRows(rows, scanSummary)
}

// List returns a page of orders matching filter and the number of all
// matching orders.
func (r *OrderRepository) List(ctx context.Context, filter order.ListFilter, page order.Page) ([]order.Summary, int, error) {
	q := buildListQuery(filter, page)

	var total int
	if err := r.pool.QueryRow(ctx, q.count, q.args[:q.filterArgs]...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	rows, err := r.pool.Query(ctx, q.list, q.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	return items, total, nil
}

// UpdateStatus sets the status and updated_at of a non-deleted order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status order.Status, at time.Time) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, id, string(status), at)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

// Statistics counts orders created in [from, to] and sums the sales and
// revenue of the delivered ones.
func (r *OrderRepository) Statistics(ctx context.Context, from, to time.Time) (*order.Stats, error) {
	var s order.Stats
	err := r.pool.QueryRow(ctx, statisticsSQL, from, to, string(order.StatusDelivered)).Scan(
		&s.NewOrders, &s.TotalSales, &s.TotalRevenue,
	)
	if err != nil {
		return nil, fmt.Errorf("computing order statistics: %w", err)
	}
	return &s, nil
}

// listQuery is a filter translated into SQL. The first filterArgs args are
// shared by both statements; the list statement adds offset and limit.
type listQuery struct {
	count      string
	list       string
	args       []any
	filterArgs int
}

func buildListQuery(f order.ListFilter, page order.Page) listQuery {
	var (
		where strings.Builder
		args  []any
	)
	placeholder := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	where.WriteString("o.deleted_at IS NULL")
	if f.Status != "" {
		where.WriteString(" AND o.status = " + placeholder(string(f.Status)))
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		p := placeholder("%" + escapeLike(s) + "%")
		where.WriteString(" AND (o.code ILIKE " + p + " OR (c.first_name || ' ' || c.last_name) ILIKE " + p + ")")
	}

	from := " FROM orders o JOIN customers c ON c.id = o.customer_id WHERE " + where.String()
	filterArgs := len(args)

	list := "SELECT " + summaryColumns + from +
		" ORDER BY " + orderBy(f) +
		" OFFSET " + placeholder(page.Skip) + " LIMIT " + placeholder(page.Limit)

	return listQuery{
		count:      "SELECT count(*)" + from,
		list:       list,
		args:       args,
		filterArgs: filterArgs,
	}
}

// orderBy only ever emits one of the fixed clauses below.
func orderBy(f order.ListFilter) string {
	var keys []string
	switch f.SortByTotal {
	case order.SortCheapest:
		keys = append(keys, "o.total_price ASC")
	case order.SortExpensive:
		keys = append(keys, "o.total_price DESC")
	}
	switch f.SortByCreated {
	case order.SortOldest:
		keys = append(keys, "o.created_at ASC")
	default:
		keys = append(keys, "o.created_at DESC")
	}
	return strings.Join(append(keys, "o.id"), ", ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o       order.Order
		status  string
		address []byte
	)
	err := row.Scan(
		&o.ID, &o.Code, &status, &o.SubTotal, &o.Discount, &o.TotalPrice, &o.Note,
		&o.PaymentMethod, &address, &o.CustomerID, &o.SpecialOfferID, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Status = order.Status(status)
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return o, fmt.Errorf("unmarshaling address of order %q: %w", o.ID, err)
	}
	return o, nil
}

func scanDetail(row pgx.CollectableRow) (order.Detail, error) {
	var (
		d        order.Detail
		snapshot []byte
	)
	err := row.Scan(&d.ID, &d.OrderID, &d.ProductID, &d.VariantID, &d.Quantity, &d.Price, &snapshot)
	if err != nil {
		return d, err
	}
	if err := json.Unmarshal(snapshot, &d.Product); err != nil {
		return d, fmt.Errorf("unmarshaling snapshot of detail %q: %w", d.ID, err)
	}
	return d, nil
}

func scanSummary(row pgx.CollectableRow) (order.Summary, error) {
	var (
		s      order.Summary
		status string
	)
	err := row.Scan(
		&s.ID, &s.Code, &status, &s.SubTotal, &s.Discount, &s.TotalPrice,
		&s.PaymentMethod, &s.CustomerName, &s.CreatedAt,
	)
	s.Status = order.Status(status)
	return s, err
}
