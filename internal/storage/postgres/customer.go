package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/customer"
)

const (
	getActiveCustomerSQL = `SELECT id, first_name, last_name, email, phone
		FROM customers WHERE id = $1 AND deleted_at IS NULL`

	getActiveAddressSQL = `SELECT id, customer_id, line, street, ward, city, district, country
		FROM addresses WHERE id = $1 AND deleted_at IS NULL`
)

var _ customer.Repository = (*CustomerRepository)(nil)

// CustomerRepository implements customer.Repository backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// GetActiveCustomer returns a non-deleted customer by id.
func (r *CustomerRepository) GetActiveCustomer(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := r.pool.QueryRow(ctx, getActiveCustomerSQL, id).Scan(
		&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &c, nil
}

// GetActiveAddress returns a non-deleted address by id.
func (r *CustomerRepository) GetActiveAddress(ctx context.Context, id string) (*customer.Address, error) {
	var a customer.Address
	err := r.pool.QueryRow(ctx, getActiveAddressSQL, id).Scan(
		&a.ID, &a.CustomerID, &a.Line, &a.Street, &a.Ward, &a.City, &a.District, &a.Country,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrAddressNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}
