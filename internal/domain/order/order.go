package order

import (
	"context"
	"time"

	"github.com/xenking/storefront/internal/domain/offer"
)

// Status is the lifecycle state of an order. Placement always records
// StatusPending; later transitions are driven by fulfilment.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusConfirmed Status = "Confirmed"
	StatusShipping  Status = "Shipping"
	StatusDelivered Status = "Delivered"
	StatusCancelled Status = "Cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusShipping, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// DefaultPaymentMethod is recorded on every new order.
const DefaultPaymentMethod = "vnpay"

// Order is a placed order. Amounts are in the smallest currency unit:
// TotalPrice = SubTotal - Discount, where SubTotal is the undiscounted value
// of all line items and Discount sums product and order offers.
type Order struct {
	ID              string
	Code            string
	Status          Status
	SubTotal        int64
	Discount        int64
	TotalPrice      int64
	Note            string
	PaymentMethod   string
	ShippingAddress ShippingAddress
	CustomerID      string
	SpecialOfferID  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ShippingAddress is the address copied into the order at placement time.
type ShippingAddress struct {
	Line     string `json:"line"`
	Street   string `json:"street"`
	Ward     string `json:"ward"`
	City     string `json:"city"`
	District string `json:"district"`
	Country  string `json:"country"`
}

// Detail is an immutable line item. Price is the unit price actually
// charged, after any product offer.
type Detail struct {
	ID        string
	OrderID   string
	ProductID string
	VariantID string
	Quantity  int
	Price     int64
	Product   Snapshot
}

// Snapshot is the product and variant state captured when the order was
// placed. It is stored by value so later catalog edits do not alter history.
type Snapshot struct {
	Name            string   `json:"name"`
	Images          []string `json:"images"`
	Price           int64    `json:"price"`
	DiscountedPrice int64    `json:"discounted_price"`
	Quantity        int      `json:"quantity"`
	Size            string   `json:"size"`
	Color           string   `json:"color"`
}

// LineItem is one requested (variant, quantity) pair.
type LineItem struct {
	VariantID string
	Quantity  int
}

// Writer persists the effects of a placement. All calls made through one
// Writer belong to the same transaction.
type Writer interface {
	CreateOrder(ctx context.Context, o *Order) error
	CreateDetails(ctx context.Context, details []Detail) error
	// ReserveStock decrements the variant's stock by quantity only if enough
	// stock remains, returning an *OutOfStockError otherwise.
	ReserveStock(ctx context.Context, variantID string, quantity int) error
	// ConsumeOffer moves quantity units of the offer's allotment to used
	// only if enough remain, returning an *offer.ExhaustedError otherwise.
	ConsumeOffer(ctx context.Context, offerID string, quantity int) (*offer.SpecialOffer, error)
}

// Transactor runs fn inside a single transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error
}
