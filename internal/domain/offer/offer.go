package offer

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Scope selects what a special offer discounts.
type Scope string

const (
	// ScopeOrder applies once per order to the whole subtotal.
	ScopeOrder Scope = "order"
	// ScopeProduct applies per unit to every variant of a product that
	// references the offer.
	ScopeProduct Scope = "product"
)

// Type enumerates the supported discount strategies.
type Type string

const (
	// TypePercent discounts a percentage of the amount, rounded down.
	TypePercent Type = "percent"
	// TypeFixed discounts a flat amount in the smallest currency unit.
	TypeFixed Type = "fixed"
)

var (
	// ErrNotFound is returned when an offer does not exist, is deleted, or
	// has a different scope than requested.
	ErrNotFound = errors.New("special offer not found")
	// ErrExhausted is returned when an offer has no remaining allotment for
	// the requested quantity.
	ErrExhausted = errors.New("special offer exhausted")
	// ErrExpired is returned when an offer is outside its validity window.
	ErrExpired = errors.New("special offer expired")
)

// SpecialOffer is a promotional offer with a fixed, consumable allotment.
type SpecialOffer struct {
	ID            string
	Code          string
	Name          string
	Scope         Scope
	Type          Type
	Discount      int64
	Condition     *int64
	TotalQuantity int
	UsedQuantity  int
	StartTime     time.Time
	EndTime       time.Time
}

// Remaining returns the number of units that may still be consumed.
func (o *SpecialOffer) Remaining() int {
	return o.TotalQuantity - o.UsedQuantity
}

// ActiveAt reports whether t falls inside the offer's validity window.
// A zero StartTime or EndTime leaves that side of the window open.
func (o *SpecialOffer) ActiveAt(t time.Time) bool {
	if !o.StartTime.IsZero() && t.Before(o.StartTime) {
		return false
	}
	if !o.EndTime.IsZero() && t.After(o.EndTime) {
		return false
	}
	return true
}

// Consume moves n units from the total to the used counter. It fails with
// ErrExhausted when fewer than n units remain.
func (o *SpecialOffer) Consume(n int) error {
	if o.Remaining() < n {
		return ErrExhausted
	}
	o.UsedQuantity += n
	o.TotalQuantity -= n
	return nil
}

// Validate checks that the offer is well formed enough to be stored.
func (o *SpecialOffer) Validate() error {
	switch {
	case o.Code == "":
		return errors.New("code is required")
	case o.Scope != ScopeOrder && o.Scope != ScopeProduct:
		return errors.Errorf("unknown scope %q", o.Scope)
	case o.Type != TypePercent && o.Type != TypeFixed:
		return errors.Errorf("unknown type %q", o.Type)
	case o.Discount < 0:
		return errors.Errorf("negative discount %d", o.Discount)
	case o.Type == TypePercent && o.Discount > 100:
		return errors.Errorf("percent discount %d exceeds 100", o.Discount)
	case o.Condition != nil && *o.Condition < 0:
		return errors.Errorf("negative condition %d", *o.Condition)
	case o.TotalQuantity < 0 || o.UsedQuantity < 0:
		return errors.New("negative quantity")
	case !o.StartTime.IsZero() && !o.EndTime.IsZero() && o.EndTime.Before(o.StartTime):
		return errors.New("offer ends before it starts")
	default:
		return nil
	}
}

// NotFoundError identifies the offer that could not be resolved.
type NotFoundError struct {
	OfferID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("special offer %s not found", e.OfferID)
}

// Is reports ErrNotFound as the error class.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ExhaustedError identifies the offer whose allotment ran out.
type ExhaustedError struct {
	OfferID string
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("special offer %s exhausted", e.OfferID)
}

// Is reports ErrExhausted as the error class.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// ExpiredError identifies an offer used outside its validity window.
type ExpiredError struct {
	OfferID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("special offer %s is not active", e.OfferID)
}

// Is reports ErrExpired as the error class.
func (e *ExpiredError) Is(target error) bool { return target == ErrExpired }

// Repository provides lookup and consumption of special offers.
type Repository interface {
	// GetActive returns a non-deleted offer with the given id and scope.
	// It returns an error matching ErrNotFound otherwise.
	GetActive(ctx context.Context, id string, scope Scope) (*SpecialOffer, error)
}
