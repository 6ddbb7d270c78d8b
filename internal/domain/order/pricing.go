package order

import (
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/offer"
)

// Reservation is a stock decrement to apply when the order commits.
type Reservation struct {
	VariantID string
	Quantity  int
}

// Pricing is the outcome of pricing every line item of a request.
type Pricing struct {
	// Gross is the undiscounted value of all line items.
	Gross int64
	// SubTotal is the sum of line totals after product offers. Order-scope
	// offers are evaluated against it.
	SubTotal int64
	// ProductDiscount is the total discount granted by product offers.
	ProductDiscount int64
	Details         []Detail
	Reservations    []Reservation
	// OfferUsage maps a product offer id to the units it must give up.
	OfferUsage map[string]int
}

// PriceLineItems prices items in submission order against the loaded
// variants. Line items that reference the same variant or the same product
// offer share its stock and allotment, so a later item sees what earlier
// items already claimed. Offers outside their validity window at now do
// not apply.
func PriceLineItems(items []LineItem, variants map[string]catalog.VariantOffer, now time.Time) (*Pricing, error) {
	p := &Pricing{
		Details:      make([]Detail, 0, len(items)),
		Reservations: make([]Reservation, 0, len(items)),
		OfferUsage:   make(map[string]int),
	}
	reserved := make(map[string]int, len(items))

	for _, item := range items {
		vo, ok := variants[item.VariantID]
		if !ok {
			return nil, &VariantNotFoundError{VariantID: item.VariantID}
		}
		v := vo.Variant

		if reserved[v.ID]+item.Quantity > v.Quantity {
			return nil, &OutOfStockError{VariantID: v.ID}
		}
		reserved[v.ID] += item.Quantity

		var unitDiscount int64
		if o := vo.Offer; o != nil && o.Scope == offer.ScopeProduct && o.ActiveAt(now) {
			if o.Remaining()-p.OfferUsage[o.ID] < item.Quantity {
				return nil, &offer.ExhaustedError{OfferID: o.ID}
			}
			d, err := offer.UnitDiscount(o, v.Price)
			if err != nil {
				return nil, errors.Wrapf(err, "price variant %s", v.ID)
			}
			unitDiscount = d
			p.OfferUsage[o.ID] += item.Quantity
		}

		qty := int64(item.Quantity)
		unitPrice := v.Price - unitDiscount

		p.Gross += v.Price * qty
		p.SubTotal += unitPrice * qty
		p.ProductDiscount += unitDiscount * qty

		p.Details = append(p.Details, Detail{
			ProductID: vo.Product.ID,
			VariantID: v.ID,
			Quantity:  item.Quantity,
			Price:     unitPrice,
			Product: Snapshot{
				Name:            vo.Product.Name,
				Images:          vo.Product.Images,
				Price:           v.Price,
				DiscountedPrice: unitPrice,
				Quantity:        v.Quantity,
				Size:            v.Size,
				Color:           v.Color,
			},
		})
		p.Reservations = append(p.Reservations, Reservation{VariantID: v.ID, Quantity: item.Quantity})
	}

	return p, nil
}
