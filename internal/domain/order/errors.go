package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order placement and queries. Typed errors below match
// these classes through errors.Is.
var (
	ErrEmptyItems = errors.New("items required")

	ErrAuthentication = errors.New("customer is not authenticated")
	ErrNotFound       = errors.New("not found")
	ErrOutOfStock     = errors.New("out of stock")
	ErrPersistence    = errors.New("persistence failure")

	ErrOrderNotFound = errors.New("order not found")
	ErrForbidden     = errors.New("order belongs to another customer")

	// ErrRequestInProgress is returned when a placement retried under the
	// same idempotency key has not finished yet.
	ErrRequestInProgress = errors.New("order request with this idempotency key is in progress")
)

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	VariantID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for variant %s", e.VariantID)
}

// CustomerNotFoundError indicates the ordering customer does not exist or
// was deleted.
type CustomerNotFoundError struct {
	CustomerID string
}

func (e *CustomerNotFoundError) Error() string {
	return fmt.Sprintf("customer %s not found", e.CustomerID)
}

func (e *CustomerNotFoundError) Is(target error) bool {
	return target == ErrAuthentication || target == ErrNotFound
}

// AddressNotFoundError indicates the shipping address does not exist or was
// deleted.
type AddressNotFoundError struct {
	AddressID string
}

func (e *AddressNotFoundError) Error() string {
	return fmt.Sprintf("address %s not found", e.AddressID)
}

func (e *AddressNotFoundError) Is(target error) bool { return target == ErrNotFound }

// VariantNotFoundError indicates a requested product variant does not exist.
type VariantNotFoundError struct {
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("product variant %s not found", e.VariantID)
}

func (e *VariantNotFoundError) Is(target error) bool { return target == ErrNotFound }

// OutOfStockError indicates the variant cannot cover the requested quantity.
type OutOfStockError struct {
	VariantID string
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("variant %s exceeds quantity in stock", e.VariantID)
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// InvalidStatusError indicates an unknown order status.
type InvalidStatusError struct {
	Status Status
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid order status %q", e.Status)
}

// PersistenceError wraps a storage failure. Any writes made before it
// occurred have been rolled back.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
