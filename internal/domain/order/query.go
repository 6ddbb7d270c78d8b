package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/customer"
)

// Paging limits.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Page selects a window of a listing.
type Page struct {
	Skip  int
	Limit int
}

// Normalize applies defaults and bounds.
func (p Page) Normalize() Page {
	if p.Skip < 0 {
		p.Skip = 0
	}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	return p
}

// TotalSort orders a listing by total price.
type TotalSort string

const (
	SortCheapest  TotalSort = "cheapest"
	SortExpensive TotalSort = "expensive"
)

// CreatedSort orders a listing by creation time.
type CreatedSort string

const (
	SortNewest CreatedSort = "newest"
	SortOldest CreatedSort = "oldest"
)

// ListFilter specifies an admin order listing. Zero values disable the
// corresponding constraint; with no sort set, newest orders come first.
type ListFilter struct {
	// Search matches the order code or the customer's name, case-insensitively.
	Search        string
	Status        Status
	SortByTotal   TotalSort
	SortByCreated CreatedSort
}

// Summary is one row of an order listing.
type Summary struct {
	ID            string
	Code          string
	Status        Status
	SubTotal      int64
	Discount      int64
	TotalPrice    int64
	PaymentMethod string
	CustomerName  string
	CreatedAt     time.Time
}

// Stats aggregates orders over a time window.
type Stats struct {
	NewOrders int
	// TotalSales sums SubTotal of delivered orders.
	TotalSales decimal.Decimal
	// TotalRevenue sums TotalPrice of delivered orders.
	TotalRevenue decimal.Decimal
}

// View is an order with its line items and the customer who placed it.
type View struct {
	Order    *Order
	Details  []Detail
	Customer *customer.Customer
}

// Repository is the read and status side of order storage.
type Repository interface {
	// GetByID returns the non-deleted order and its details, or
	// ErrOrderNotFound.
	GetByID(ctx context.Context, id string) (*Order, []Detail, error)
	ListByCustomer(ctx context.Context, customerID string, page Page) ([]Summary, error)
	List(ctx context.Context, filter ListFilter, page Page) ([]Summary, int, error)
	// UpdateStatus returns ErrOrderNotFound when no order matches.
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	Statistics(ctx context.Context, from, to time.Time) (*Stats, error)
}

// QueryService serves order history, admin listings, status changes and
// sales statistics.
type QueryService struct {
	orders    Repository
	customers customer.Repository
	now       func() time.Time
}

// NewQueryService creates a QueryService.
func NewQueryService(orders Repository, customers customer.Repository) *QueryService {
	return &QueryService{orders: orders, customers: customers, now: time.Now}
}

// GetForCustomer returns an order only if it belongs to customerID.
func (q *QueryService) GetForCustomer(ctx context.Context, orderID, customerID string) (*View, error) {
	o, details, err := q.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		return nil, ErrForbidden
	}
	return q.view(ctx, o, details)
}

// GetForAdmin returns any order.
func (q *QueryService) GetForAdmin(ctx context.Context, orderID string) (*View, error) {
	o, details, err := q.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return q.view(ctx, o, details)
}

func (q *QueryService) view(ctx context.Context, o *Order, details []Detail) (*View, error) {
	c, err := q.customers.GetActiveCustomer(ctx, o.CustomerID)
	switch {
	case errors.Is(err, customer.ErrNotFound):
		// Deleted customers keep their order history.
		c = nil
	case err != nil:
		return nil, errors.Wrap(err, "get order customer")
	}
	return &View{Order: o, Details: details, Customer: c}, nil
}

// ListForCustomer returns the customer's orders, newest first.
func (q *QueryService) ListForCustomer(ctx context.Context, customerID string, page Page) ([]Summary, error) {
	return q.orders.ListByCustomer(ctx, customerID, page.Normalize())
}

// ListForAdmin returns a filtered page of all orders and the total number
// of matching orders.
func (q *QueryService) ListForAdmin(ctx context.Context, filter ListFilter, page Page) ([]Summary, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &InvalidStatusError{Status: filter.Status}
	}
	return q.orders.List(ctx, filter, page.Normalize())
}

// UpdateStatus moves the order to status.
func (q *QueryService) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	if !status.Valid() {
		return &InvalidStatusError{Status: status}
	}
	return q.orders.UpdateStatus(ctx, orderID, status, q.now())
}

// Statistics aggregates orders created in [from, to]. A zero to means now
// and a zero from means seven days before to.
func (q *QueryService) Statistics(ctx context.Context, from, to time.Time) (*Stats, error) {
	if to.IsZero() {
		to = q.now()
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -7)
	}
	if to.Before(from) {
		return nil, errors.Errorf("statistics window ends before it starts: %s < %s", to, from)
	}
	return q.orders.Statistics(ctx, from, to)
}
