package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/catalog"
)

const getVariantsWithProductAndOfferSQL = `SELECT
		v.id, v.product_id, v.price, v.quantity, v.size, v.color,
		p.name, p.images, p.special_offer_id,
		o.id, o.code, o.name, o.scope, o.type, o.discount, o.condition,
		o.total_quantity, o.used_quantity, o.start_time, o.end_time
	FROM product_variants v
	JOIN products p ON p.id = v.product_id AND p.deleted_at IS NULL
	LEFT JOIN special_offers o ON o.id = p.special_offer_id AND o.deleted_at IS NULL
	WHERE v.id = ANY($1)`

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetVariantsWithProductAndOffer loads variants, their products and the
// products' offers in one query.
func (r *CatalogRepository) GetVariantsWithProductAndOffer(ctx context.Context, ids []string) (map[string]catalog.VariantOffer, error) {
	rows, err := r.pool.Query(ctx, getVariantsWithProductAndOfferSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting variants by ids: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanVariantOffer)
	if err != nil {
		return nil, fmt.Errorf("getting variants by ids: %w", err)
	}

	out := make(map[string]catalog.VariantOffer, len(items))
	for _, vo := range items {
		out[vo.Variant.ID] = vo
	}
	return out, nil
}

func scanVariantOffer(row pgx.CollectableRow) (catalog.VariantOffer, error) {
	var (
		vo catalog.VariantOffer
		no nullableOffer
	)
	dest := append([]any{
		&vo.Variant.ID, &vo.Variant.ProductID, &vo.Variant.Price, &vo.Variant.Quantity,
		&vo.Variant.Size, &vo.Variant.Color,
		&vo.Product.Name, &vo.Product.Images, &vo.Product.SpecialOfferID,
	}, no.dest()...)
	if err := row.Scan(dest...); err != nil {
		return vo, err
	}
	vo.Product.ID = vo.Variant.ProductID
	vo.Offer = no.toOffer()
	return vo, nil
}
