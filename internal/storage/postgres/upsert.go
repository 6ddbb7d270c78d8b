package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/offer"
)

// Upserts used by seeding and bulk import. Offer upserts are keyed by code
// and never touch used_quantity, so re-importing keeps consumption history.
const (
	upsertOfferSQL = `INSERT INTO special_offers
		(id, code, name, scope, type, discount, condition, total_quantity, used_quantity, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			scope = EXCLUDED.scope,
			type = EXCLUDED.type,
			discount = EXCLUDED.discount,
			condition = EXCLUDED.condition,
			total_quantity = EXCLUDED.total_quantity,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			deleted_at = NULL`

	upsertProductSQL = `INSERT INTO products (id, name, images, special_offer_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			images = EXCLUDED.images,
			special_offer_id = EXCLUDED.special_offer_id,
			deleted_at = NULL`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, price, quantity, size, color)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			price = EXCLUDED.price,
			quantity = EXCLUDED.quantity,
			size = EXCLUDED.size,
			color = EXCLUDED.color`

	upsertCustomerSQL = `INSERT INTO customers (id, first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			deleted_at = NULL`

	upsertAddressSQL = `INSERT INTO addresses (id, customer_id, line, street, ward, city, district, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			line = EXCLUDED.line,
			street = EXCLUDED.street,
			ward = EXCLUDED.ward,
			city = EXCLUDED.city,
			district = EXCLUDED.district,
			country = EXCLUDED.country,
			deleted_at = NULL`

	upsertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes, active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (id) DO UPDATE SET
			key_hash = EXCLUDED.key_hash,
			name = EXCLUDED.name,
			scopes = EXCLUDED.scopes,
			active = TRUE`
)

// UpsertOffers inserts or updates offers by code in one batch. Ids of new
// offers are taken from the input; existing offers keep theirs.
func (r *OfferRepository) UpsertOffers(ctx context.Context, offers []offer.SpecialOffer) error {
	batch := &pgx.Batch{}
	for _, o := range offers {
		batch.Queue(upsertOfferSQL,
			o.ID, o.Code, o.Name, string(o.Scope), string(o.Type), o.Discount, o.Condition,
			o.TotalQuantity, o.UsedQuantity, nullTime(o.StartTime), nullTime(o.EndTime),
		)
	}
	return sendBatch(ctx, r.pool, batch, "upserting offers")
}

// UpsertProduct inserts or updates a product and its variants.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product, variants []catalog.Variant) error {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	batch := &pgx.Batch{}
	batch.Queue(upsertProductSQL, p.ID, p.Name, images, p.SpecialOfferID)
	for _, v := range variants {
		batch.Queue(upsertVariantSQL, v.ID, p.ID, v.Price, v.Quantity, v.Size, v.Color)
	}
	return sendBatch(ctx, r.pool, batch, fmt.Sprintf("upserting product %q", p.ID))
}

// UpsertCustomer inserts or updates a customer and its addresses.
func (r *CustomerRepository) UpsertCustomer(ctx context.Context, c customer.Customer, addresses []customer.Address) error {
	batch := &pgx.Batch{}
	batch.Queue(upsertCustomerSQL, c.ID, c.FirstName, c.LastName, c.Email, c.Phone)
	for _, a := range addresses {
		batch.Queue(upsertAddressSQL, a.ID, c.ID, a.Line, a.Street, a.Ward, a.City, a.District, a.Country)
	}
	return sendBatch(ctx, r.pool, batch, fmt.Sprintf("upserting customer %q", c.ID))
}

// Upsert stores an active API key.
func (r *APIKeyRepository) Upsert(ctx context.Context, k auth.APIKeyInfo) error {
	scopes := k.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	if _, err := r.pool.Exec(ctx, upsertAPIKeySQL, k.ID, k.KeyHash, k.Name, scopes); err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.ID, err)
	}
	return nil
}

// batchSender is implemented by *pgxpool.Pool and pgx.Tx.
type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// sendBatch runs batch in an implicit transaction and checks every result.
func sendBatch(ctx context.Context, db batchSender, batch *pgx.Batch, op string) error {
	if batch.Len() == 0 {
		return nil
	}
	results := db.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
