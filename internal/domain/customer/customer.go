// Package customer holds the customer and shipping address read models used
// by order placement. Account management lives elsewhere.
package customer

import (
	"context"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when no active customer matches the id.
	ErrNotFound = errors.New("customer not found")
	// ErrAddressNotFound is returned when no active address matches the id.
	ErrAddressNotFound = errors.New("address not found")
)

// Customer is the identity placing an order.
type Customer struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Phone     string
}

// FullName returns the customer's display name.
func (c *Customer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// Address is a shipping address owned by a customer.
type Address struct {
	ID         string
	CustomerID string
	Line       string
	Street     string
	Ward       string
	City       string
	District   string
	Country    string
}

// Repository looks up active (non-deleted) customers and addresses.
type Repository interface {
	GetActiveCustomer(ctx context.Context, id string) (*Customer, error)
	GetActiveAddress(ctx context.Context, id string) (*Address, error)
}
