package order

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	orders  map[string]*Order
	details map[string][]Detail

	lastFilter ListFilter
	lastPage   Page
	lastFrom   time.Time
	lastTo     time.Time
	statuses   map[string]Status
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{
		orders:   make(map[string]*Order),
		details:  make(map[string][]Detail),
		statuses: make(map[string]Status),
	}
}

func (m *mockOrderRepo) GetByID(_ context.Context, id string) (*Order, []Detail, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, nil, ErrOrderNotFound
	}
	return o, m.details[id], nil
}

func (m *mockOrderRepo) ListByCustomer(_ context.Context, customerID string, page Page) ([]Summary, error) {
	m.lastPage = page
	var out []Summary
	for _, o := range m.orders {
		if o.CustomerID == customerID {
			out = append(out, Summary{ID: o.ID, Code: o.Code, Status: o.Status})
		}
	}
	return out, nil
}

func (m *mockOrderRepo) List(_ context.Context, filter ListFilter, page Page) ([]Summary, int, error) {
	m.lastFilter = filter
	m.lastPage = page
	return []Summary{}, len(m.orders), nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id string, status Status, _ time.Time) error {
	if _, ok := m.orders[id]; !ok {
		return ErrOrderNotFound
	}
	m.statuses[id] = status
	return nil
}

func (m *mockOrderRepo) Statistics(_ context.Context, from, to time.Time) (*Stats, error) {
	m.lastFrom, m.lastTo = from, to
	return &Stats{NewOrders: 3, TotalSales: decimal.NewFromInt(1000), TotalRevenue: decimal.NewFromInt(900)}, nil
}

// --- Helpers ---

func newTestQueryService(orders *mockOrderRepo) *QueryService {
	q := NewQueryService(orders, newCustomerRepo())
	q.now = func() time.Time { return testNow }
	return q
}

// --- Tests ---

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Skip: 0, Limit: DefaultLimit}, Page{Skip: -5}.Normalize())
	assert.Equal(t, Page{Skip: 20, Limit: MaxLimit}, Page{Skip: 20, Limit: 1000}.Normalize())
	assert.Equal(t, Page{Skip: 1, Limit: 7}, Page{Skip: 1, Limit: 7}.Normalize())
}

func TestQueryService_GetForCustomer(t *testing.T) {
	orders := newMockOrderRepo()
	orders.orders["o1"] = &Order{ID: "o1", CustomerID: "c1"}
	orders.orders["o2"] = &Order{ID: "o2", CustomerID: "deleted"}
	orders.details["o1"] = []Detail{{ID: "d1", OrderID: "o1"}}
	q := newTestQueryService(orders)

	t.Run("owner", func(t *testing.T) {
		v, err := q.GetForCustomer(context.Background(), "o1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "o1", v.Order.ID)
		assert.Len(t, v.Details, 1)
		require.NotNil(t, v.Customer)
		assert.Equal(t, "Lan Nguyen", v.Customer.FullName())
	})

	t.Run("other customer", func(t *testing.T) {
		_, err := q.GetForCustomer(context.Background(), "o1", "c2")
		require.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := q.GetForCustomer(context.Background(), "nope", "c1")
		require.ErrorIs(t, err, ErrOrderNotFound)
	})

	t.Run("deleted customer keeps history", func(t *testing.T) {
		v, err := q.GetForAdmin(context.Background(), "o2")
		require.NoError(t, err)
		assert.Nil(t, v.Customer)
	})
}

func TestQueryService_ListForAdmin(t *testing.T) {
	orders := newMockOrderRepo()
	q := newTestQueryService(orders)

	_, _, err := q.ListForAdmin(context.Background(), ListFilter{Status: "lost"}, Page{})
	var isErr *InvalidStatusError
	require.ErrorAs(t, err, &isErr)

	filter := ListFilter{Search: "lan", Status: StatusDelivered, SortByTotal: SortExpensive}
	_, _, err = q.ListForAdmin(context.Background(), filter, Page{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, filter, orders.lastFilter)
	assert.Equal(t, MaxLimit, orders.lastPage.Limit)
}

func TestQueryService_UpdateStatus(t *testing.T) {
	orders := newMockOrderRepo()
	orders.orders["o1"] = &Order{ID: "o1"}
	q := newTestQueryService(orders)

	require.NoError(t, q.UpdateStatus(context.Background(), "o1", StatusShipping))
	assert.Equal(t, StatusShipping, orders.statuses["o1"])

	err := q.UpdateStatus(context.Background(), "o1", "teleported")
	var isErr *InvalidStatusError
	require.ErrorAs(t, err, &isErr)
	assert.Equal(t, Status("teleported"), isErr.Status)

	require.ErrorIs(t, q.UpdateStatus(context.Background(), "nope", StatusCancelled), ErrOrderNotFound)
}

func TestQueryService_Statistics(t *testing.T) {
	orders := newMockOrderRepo()
	q := newTestQueryService(orders)

	stats, err := q.Statistics(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.NewOrders)
	assert.True(t, stats.TotalRevenue.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, testNow, orders.lastTo)
	assert.Equal(t, testNow.AddDate(0, 0, -7), orders.lastFrom)

	_, err = q.Statistics(context.Background(), testNow, testNow.Add(-time.Hour))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOrderNotFound))
}
