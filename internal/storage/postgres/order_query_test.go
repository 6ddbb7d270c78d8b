package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

func TestBuildListQuery_NoFilter(t *testing.T) {
	q := buildListQuery(order.ListFilter{}, order.Page{Skip: 20, Limit: 10})

	assert.Equal(t, 0, q.filterArgs)
	assert.Equal(t, []any{20, 10}, q.args)
	assert.Contains(t, q.list, "WHERE o.deleted_at IS NULL ORDER BY o.created_at DESC, o.id OFFSET $1 LIMIT $2")
	assert.NotContains(t, q.count, "OFFSET")
}

func TestBuildListQuery_Filters(t *testing.T) {
	q := buildListQuery(order.ListFilter{
		Search:        " 50%_off ",
		Status:        order.StatusDelivered,
		SortByTotal:   order.SortExpensive,
		SortByCreated: order.SortOldest,
	}, order.Page{Limit: 5})

	require.Equal(t, 2, q.filterArgs)
	assert.Equal(t, []any{"Delivered", `%50\%\_off%`, 0, 5}, q.args)
	assert.Contains(t, q.count, "o.status = $1")
	assert.Contains(t, q.count, "o.code ILIKE $2")
	assert.Contains(t, q.list, "ORDER BY o.total_price DESC, o.created_at ASC, o.id OFFSET $3 LIMIT $4")
}

func TestOrderBy_Cheapest(t *testing.T) {
	assert.Equal(t, "o.total_price ASC, o.created_at DESC, o.id",
		orderBy(order.ListFilter{SortByTotal: order.SortCheapest}))
}
