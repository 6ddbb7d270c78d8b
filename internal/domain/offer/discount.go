package offer

import "github.com/go-faster/errors"

// UnitDiscount returns the per-unit discount a product-scope offer grants on
// a variant priced at price. The result never exceeds price, so the
// discounted price cannot go negative.
func UnitDiscount(o *SpecialOffer, price int64) (int64, error) {
	if price <= 0 {
		return 0, nil
	}

	var amount int64
	switch o.Type {
	case TypePercent:
		amount = percentOf(price, o.Discount)
	case TypeFixed:
		amount = o.Discount
	default:
		return 0, errors.Errorf("unsupported discount type: %q", o.Type)
	}

	return clamp(amount, price), nil
}

// OrderDiscount computes the discount an order-scope offer grants on
// subTotal. It returns applied=false with a zero amount when the offer is nil
// or subTotal is below the offer's condition; in that case the offer must not
// be consumed. An offer with no remaining allotment fails with an
// *ExhaustedError.
func OrderDiscount(o *SpecialOffer, subTotal int64) (amount int64, applied bool, err error) {
	if o == nil {
		return 0, false, nil
	}
	if o.Condition != nil && subTotal < *o.Condition {
		return 0, false, nil
	}
	if o.Remaining() < 1 {
		return 0, false, &ExhaustedError{OfferID: o.ID}
	}

	switch o.Type {
	case TypePercent:
		amount = percentOf(subTotal, o.Discount)
	case TypeFixed:
		amount = o.Discount
	default:
		return 0, false, errors.Errorf("unsupported discount type: %q", o.Type)
	}
	if amount < 0 {
		amount = 0
	}

	return amount, true, nil
}

// percentOf returns floor(amount * pct / 100) for non-negative operands.
func percentOf(amount, pct int64) int64 {
	if amount <= 0 || pct <= 0 {
		return 0
	}
	return amount * pct / 100
}

// clamp bounds v to [0, limit].
func clamp(v, limit int64) int64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}
