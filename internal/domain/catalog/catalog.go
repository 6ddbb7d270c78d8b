// Package catalog holds the product and variant read models priced by order
// placement.
package catalog

import (
	"context"

	"github.com/xenking/storefront/internal/domain/offer"
)

// Product is the parent of one or more sellable variants.
type Product struct {
	ID             string
	Name           string
	Images         []string
	SpecialOfferID *string
}

// Variant is a sellable size/color combination of a product. Price is in the
// smallest currency unit; Quantity is the stock on hand and never negative.
type Variant struct {
	ID        string
	ProductID string
	Price     int64
	Quantity  int
	Size      string
	Color     string
}

// VariantOffer bundles a variant with its parent product and the offer
// attached to that product, if any.
type VariantOffer struct {
	Variant Variant
	Product Product
	Offer   *offer.SpecialOffer
}

// Repository provides batched variant reads for pricing.
type Repository interface {
	// GetVariantsWithProductAndOffer loads the given variants together with
	// their product and product offer in a single read. Ids that do not
	// exist are absent from the result.
	GetVariantsWithProductAndOffer(ctx context.Context, ids []string) (map[string]VariantOffer, error)
}
