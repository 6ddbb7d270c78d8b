package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/offer"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	CustomerID string
	AddressID  string
	// SpecialOfferID optionally references an order-scope offer.
	SpecialOfferID string
	Note           string
	Items          []LineItem
}

// PlaceOrderResult is the receipt of a committed order.
type PlaceOrderResult struct {
	Order   *Order
	Details []Detail
	Address *customer.Address
	// Offer is the order-scope offer named in the request, if any. It is
	// returned even when its condition was not met; see OfferApplied.
	Offer           *offer.SpecialOffer
	OfferApplied    bool
	ProductDiscount int64
	OrderDiscount   int64
}

// Option configures a Service.
type Option func(*Service)

// WithTracerProvider sets the tracer provider used for placement spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(instrumentationName) }
}

// WithMeterProvider sets the meter provider used for placement counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter(instrumentationName) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeGenerator overrides the order code generator.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(s *Service) { s.code = gen }
}

// Service places orders: it resolves the customer, address and offers,
// prices the line items, and commits the order, its line items, the stock
// reservations and the offer consumption in one transaction.
type Service struct {
	customers customer.Repository
	offers    offer.Repository
	catalog   catalog.Repository
	tx        Transactor

	now    func() time.Time
	code   CodeGenerator
	tracer trace.Tracer
	meter  metric.Meter

	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	customers customer.Repository,
	offers offer.Repository,
	variants catalog.Repository,
	tx Transactor,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		customers: customers,
		offers:    offers,
		catalog:   variants,
		tx:        tx,
		now:       time.Now,
		code:      TimeCode,
		tracer:    otel.GetTracerProvider().Tracer(instrumentationName),
		meter:     otel.GetMeterProvider().Meter(instrumentationName),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("storefront.orders.placed",
		metric.WithDescription("Orders committed"),
	); err != nil {
		return nil, errors.Wrap(err, "create placed counter")
	}
	if s.rejected, err = s.meter.Int64Counter("storefront.orders.rejected",
		metric.WithDescription("Order placements that did not commit"),
	); err != nil {
		return nil, errors.Wrap(err, "create rejected counter")
	}

	return s, nil
}

// dependencies is the joined result of the concurrent dependency reads.
type dependencies struct {
	customer *customer.Customer
	address  *customer.Address
	offer    *offer.SpecialOffer
}

// PlaceOrder validates the request, loads its dependencies and variants
// concurrently, prices it and commits it atomically. Nothing is written
// unless the whole order succeeds.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Place",
		trace.WithAttributes(
			attribute.String("customer.id", req.CustomerID),
			attribute.Int("order.items", len(req.Items)),
		),
	)
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
			s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(rerr))))
		}
		span.End()
	}()

	lg := zctx.From(ctx)

	ids, err := validateItems(req.Items)
	if err != nil {
		return nil, err
	}

	deps, variants, err := s.load(ctx, req, ids)
	if err != nil {
		lg.Warn("Order dependencies rejected", zap.String("customer_id", req.CustomerID), zap.Error(err))
		return nil, err
	}

	now := s.now()
	pricing, err := PriceLineItems(req.Items, variants, now)
	if err != nil {
		lg.Warn("Order pricing rejected", zap.String("customer_id", req.CustomerID), zap.Error(err))
		return nil, err
	}

	orderDiscount, applied, err := offer.OrderDiscount(deps.offer, pricing.SubTotal)
	if err != nil {
		lg.Warn("Order offer rejected", zap.String("offer_id", req.SpecialOfferID), zap.Error(err))
		return nil, err
	}
	// A fixed order discount larger than what is left to pay is clamped so
	// the charged total never goes negative.
	orderDiscount = min(orderDiscount, pricing.SubTotal)

	o := &Order{
		ID:            uuid.New().String(),
		Code:          s.code(now),
		Status:        StatusPending,
		SubTotal:      pricing.Gross,
		Discount:      pricing.ProductDiscount + orderDiscount,
		Note:          req.Note,
		PaymentMethod: DefaultPaymentMethod,
		ShippingAddress: ShippingAddress{
			Line:     deps.address.Line,
			Street:   deps.address.Street,
			Ward:     deps.address.Ward,
			City:     deps.address.City,
			District: deps.address.District,
			Country:  deps.address.Country,
		},
		CustomerID: deps.customer.ID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	o.TotalPrice = o.SubTotal - o.Discount
	if applied {
		o.SpecialOfferID = &deps.offer.ID
	}

	details := pricing.Details
	for i := range details {
		details[i].ID = uuid.New().String()
		details[i].OrderID = o.ID
	}

	var orderOffer *offer.SpecialOffer
	if applied {
		orderOffer = deps.offer
	}
	if err := s.commit(ctx, o, details, pricing, orderOffer); err != nil {
		if errors.Is(err, ErrPersistence) {
			lg.Error("Order commit failed", zap.String("order_id", o.ID), zap.Error(err))
		} else {
			lg.Warn("Order commit rejected", zap.String("order_id", o.ID), zap.Error(err))
		}
		return nil, err
	}

	s.placed.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.code", o.Code))
	lg.Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("code", o.Code),
		zap.Int64("sub_total", o.SubTotal),
		zap.Int64("discount", o.Discount),
		zap.Int64("total", o.TotalPrice),
	)

	return &PlaceOrderResult{
		Order:           o,
		Details:         details,
		Address:         deps.address,
		Offer:           deps.offer,
		OfferApplied:    applied,
		ProductDiscount: pricing.ProductDiscount,
		OrderDiscount:   orderDiscount,
	}, nil
}

// validateItems checks quantities and returns the distinct variant ids in
// submission order.
func validateItems(items []LineItem) ([]string, error) {
	if len(items) == 0 {
		return nil, ErrEmptyItems
	}

	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{VariantID: item.VariantID}
		}
		if _, ok := seen[item.VariantID]; ok {
			continue
		}
		seen[item.VariantID] = struct{}{}
		ids = append(ids, item.VariantID)
	}
	return ids, nil
}

// load resolves the request dependencies and the variant batch in parallel.
func (s *Service) load(ctx context.Context, req PlaceOrderRequest, ids []string) (*dependencies, map[string]catalog.VariantOffer, error) {
	var (
		deps     *dependencies
		variants map[string]catalog.VariantOffer
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := s.resolveDependencies(gctx, req.CustomerID, req.AddressID, req.SpecialOfferID)
		deps = d
		return err
	})
	g.Go(func() error {
		v, err := s.catalog.GetVariantsWithProductAndOffer(gctx, ids)
		if err != nil {
			return persistence("get variants", err)
		}
		variants = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return deps, variants, nil
}

// resolveDependencies fetches the customer, the address and, when offerID is
// set, the order-scope offer concurrently.
func (s *Service) resolveDependencies(ctx context.Context, customerID, addressID, offerID string) (*dependencies, error) {
	var deps dependencies

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := s.customers.GetActiveCustomer(gctx, customerID)
		switch {
		case errors.Is(err, customer.ErrNotFound):
			return &CustomerNotFoundError{CustomerID: customerID}
		case err != nil:
			return persistence("get customer", err)
		}
		deps.customer = c
		return nil
	})
	g.Go(func() error {
		a, err := s.customers.GetActiveAddress(gctx, addressID)
		switch {
		case errors.Is(err, customer.ErrAddressNotFound):
			return &AddressNotFoundError{AddressID: addressID}
		case err != nil:
			return persistence("get address", err)
		}
		deps.address = a
		return nil
	})
	if offerID != "" {
		g.Go(func() error {
			o, err := s.offers.GetActive(gctx, offerID, offer.ScopeOrder)
			switch {
			case errors.Is(err, offer.ErrNotFound):
				return &offer.NotFoundError{OfferID: offerID}
			case err != nil:
				return persistence("get offer", err)
			}
			if !o.ActiveAt(s.now()) {
				return &offer.ExpiredError{OfferID: offerID}
			}
			deps.offer = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Another customer's address is reported as missing so its existence
	// is not disclosed.
	if deps.address.CustomerID != deps.customer.ID {
		return nil, &AddressNotFoundError{AddressID: addressID}
	}

	return &deps, nil
}

// commit writes the order and all of its side effects in one transaction.
// Counter updates run in ascending id order so that concurrent placements
// touching the same rows acquire their locks in the same order.
func (s *Service) commit(ctx context.Context, o *Order, details []Detail, p *Pricing, orderOffer *offer.SpecialOffer) error {
	reservations := mergeReservations(p.Reservations)

	usage := make(map[string]int, len(p.OfferUsage)+1)
	for id, n := range p.OfferUsage {
		usage[id] += n
	}
	if orderOffer != nil {
		usage[orderOffer.ID]++
	}
	offerIDs := make([]string, 0, len(usage))
	for id := range usage {
		offerIDs = append(offerIDs, id)
	}
	slices.Sort(offerIDs)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, w Writer) error {
		if err := w.CreateOrder(ctx, o); err != nil {
			return persistence("create order", err)
		}
		if err := w.CreateDetails(ctx, details); err != nil {
			return persistence("create order details", err)
		}
		for _, r := range reservations {
			if err := w.ReserveStock(ctx, r.VariantID, r.Quantity); err != nil {
				return classify("reserve stock", err)
			}
		}
		for _, id := range offerIDs {
			if _, err := w.ConsumeOffer(ctx, id, usage[id]); err != nil {
				return classify("consume offer", err)
			}
		}
		return nil
	})
	if err != nil {
		return classify("commit order", err)
	}
	return nil
}

// mergeReservations sums reservations per variant and sorts them by id.
func mergeReservations(in []Reservation) []Reservation {
	byID := make(map[string]int, len(in))
	for _, r := range in {
		byID[r.VariantID] += r.Quantity
	}
	out := make([]Reservation, 0, len(byID))
	for id, n := range byID {
		out = append(out, Reservation{VariantID: id, Quantity: n})
	}
	slices.SortFunc(out, func(a, b Reservation) int {
		switch {
		case a.VariantID < b.VariantID:
			return -1
		case a.VariantID > b.VariantID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// classify keeps business rejections as they are and wraps anything else as
// a persistence failure.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrPersistence),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, offer.ErrExhausted),
		errors.Is(err, offer.ErrNotFound):
		return err
	default:
		return persistence(op, err)
	}
}

// rejectReason maps an error to the metric attribute recorded for it.
func rejectReason(err error) string {
	var iqErr *InvalidQuantityError
	switch {
	case errors.Is(err, ErrEmptyItems), errors.As(err, &iqErr):
		return "invalid_request"
	case errors.Is(err, ErrAuthentication):
		return "authentication"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, offer.ErrExhausted):
		return "offer_exhausted"
	case errors.Is(err, offer.ErrExpired):
		return "offer_expired"
	case errors.Is(err, ErrNotFound), errors.Is(err, offer.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}
