package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/offer"
)

const (
	offerColumns = `id, code, name, scope, type, discount, condition,
		total_quantity, used_quantity, start_time, end_time`

	getActiveOfferSQL = `SELECT ` + offerColumns + `
		FROM special_offers WHERE id = $1 AND scope = $2 AND deleted_at IS NULL`
)

var _ offer.Repository = (*OfferRepository)(nil)

// OfferRepository implements offer.Repository backed by PostgreSQL.
type OfferRepository struct {
	pool *pgxpool.Pool
}

// NewOfferRepository returns an OfferRepository that uses the given pool.
func NewOfferRepository(pool *pgxpool.Pool) *OfferRepository {
	return &OfferRepository{pool: pool}
}

// GetActive returns a non-deleted offer of the given scope.
func (r *OfferRepository) GetActive(ctx context.Context, id string, scope offer.Scope) (*offer.SpecialOffer, error) {
	rows, err := r.pool.Query(ctx, getActiveOfferSQL, id, string(scope))
	if err != nil {
		return nil, fmt.Errorf("getting offer %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOffer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, offer.ErrNotFound
		}
		return nil, fmt.Errorf("getting offer %q: %w", id, err)
	}
	return &o, nil
}

func scanOffer(row pgx.CollectableRow) (offer.SpecialOffer, error) {
	var (
		o          offer.SpecialOffer
		scope, typ string
		start, end *time.Time
	)
	err := row.Scan(
		&o.ID, &o.Code, &o.Name, &scope, &typ, &o.Discount, &o.Condition,
		&o.TotalQuantity, &o.UsedQuantity, &start, &end,
	)
	o.Scope = offer.Scope(scope)
	o.Type = offer.Type(typ)
	o.StartTime = timeOrZero(start)
	o.EndTime = timeOrZero(end)
	return o, err
}

// nullableOffer receives the LEFT JOINed offer columns of a variant row.
type nullableOffer struct {
	ID            *string
	Code          *string
	Name          *string
	Scope         *string
	Type          *string
	Discount      *int64
	Condition     *int64
	TotalQuantity *int
	UsedQuantity  *int
	StartTime     *time.Time
	EndTime       *time.Time
}

func (n *nullableOffer) dest() []any {
	return []any{
		&n.ID, &n.Code, &n.Name, &n.Scope, &n.Type, &n.Discount, &n.Condition,
		&n.TotalQuantity, &n.UsedQuantity, &n.StartTime, &n.EndTime,
	}
}

func (n *nullableOffer) toOffer() *offer.SpecialOffer {
	if n.ID == nil {
		return nil
	}
	return &offer.SpecialOffer{
		ID:            *n.ID,
		Code:          deref(n.Code),
		Name:          deref(n.Name),
		Scope:         offer.Scope(deref(n.Scope)),
		Type:          offer.Type(deref(n.Type)),
		Discount:      deref(n.Discount),
		Condition:     n.Condition,
		TotalQuantity: deref(n.TotalQuantity),
		UsedQuantity:  deref(n.UsedQuantity),
		StartTime:     timeOrZero(n.StartTime),
		EndTime:       timeOrZero(n.EndTime),
	}
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
