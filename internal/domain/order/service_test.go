package order

import (
	"context"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/storefront/internal/domain/catalog"
	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/offer"
)

// --- Mock implementations ---

type mockCustomerRepo struct {
	customers map[string]*customer.Customer
	addresses map[string]*customer.Address
	err       error
}

func (m *mockCustomerRepo) GetActiveCustomer(_ context.Context, id string) (*customer.Customer, error) {
	if m.err != nil {
		return nil, m.err
	}
	c, ok := m.customers[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return c, nil
}

func (m *mockCustomerRepo) GetActiveAddress(_ context.Context, id string) (*customer.Address, error) {
	a, ok := m.addresses[id]
	if !ok {
		return nil, customer.ErrAddressNotFound
	}
	return a, nil
}

// memStore is an in-memory catalog, offer store and transactor. Each
// transaction works on a copy of the counters which replaces the committed
// state only when the transaction function succeeds.
type memStore struct {
	mu       sync.Mutex
	products map[string]catalog.Product
	variants map[string]catalog.Variant
	offers   map[string]offer.SpecialOffer
	orders   map[string]Order
	details  []Detail

	// failOn makes the named writer step return the error.
	failOn  map[string]error
	barrier *sync.WaitGroup
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[string]catalog.Product),
		variants: make(map[string]catalog.Variant),
		offers:   make(map[string]offer.SpecialOffer),
		orders:   make(map[string]Order),
		failOn:   make(map[string]error),
	}
}

func (m *memStore) GetVariantsWithProductAndOffer(_ context.Context, ids []string) (map[string]catalog.VariantOffer, error) {
	m.mu.Lock()
	out := make(map[string]catalog.VariantOffer, len(ids))
	for _, id := range ids {
		v, ok := m.variants[id]
		if !ok {
			continue
		}
		p := m.products[v.ProductID]
		vo := catalog.VariantOffer{Variant: v, Product: p}
		if p.SpecialOfferID != nil {
			if o, ok := m.offers[*p.SpecialOfferID]; ok {
				vo.Offer = &o
			}
		}
		out[id] = vo
	}
	m.mu.Unlock()

	if m.barrier != nil {
		m.barrier.Done()
		m.barrier.Wait()
	}
	return out, nil
}

func (m *memStore) GetActive(_ context.Context, id string, scope offer.Scope) (*offer.SpecialOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.offers[id]
	if !ok || o.Scope != scope {
		return nil, offer.ErrNotFound
	}
	return &o, nil
}

func (m *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, w Writer) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		store:    m,
		variants: maps.Clone(m.variants),
		offers:   maps.Clone(m.offers),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	m.variants = tx.variants
	m.offers = tx.offers
	for _, o := range tx.orders {
		m.orders[o.ID] = o
	}
	m.details = append(m.details, tx.details...)
	return nil
}

func (m *memStore) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variants[id].Quantity
}

func (m *memStore) offerState(id string) offer.SpecialOffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers[id]
}

type memTx struct {
	store    *memStore
	variants map[string]catalog.Variant
	offers   map[string]offer.SpecialOffer
	orders   []Order
	details  []Detail
}

func (t *memTx) CreateOrder(_ context.Context, o *Order) error {
	if err := t.store.failOn["create_order"]; err != nil {
		return err
	}
	t.orders = append(t.orders, *o)
	return nil
}

func (t *memTx) CreateDetails(_ context.Context, details []Detail) error {
	if err := t.store.failOn["create_details"]; err != nil {
		return err
	}
	t.details = append(t.details, details...)
	return nil
}

func (t *memTx) ReserveStock(_ context.Context, variantID string, quantity int) error {
	if err := t.store.failOn["reserve"]; err != nil {
		return err
	}
	v, ok := t.variants[variantID]
	if !ok || v.Quantity < quantity {
		return &OutOfStockError{VariantID: variantID}
	}
	v.Quantity -= quantity
	t.variants[variantID] = v
	return nil
}

func (t *memTx) ConsumeOffer(_ context.Context, offerID string, quantity int) (*offer.SpecialOffer, error) {
	if err := t.store.failOn["consume"]; err != nil {
		return nil, err
	}
	o, ok := t.offers[offerID]
	if !ok {
		return nil, &offer.NotFoundError{OfferID: offerID}
	}
	if err := o.Consume(quantity); err != nil {
		return nil, &offer.ExhaustedError{OfferID: offerID}
	}
	t.offers[offerID] = o
	return &o, nil
}

// --- Helpers ---

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newCustomerRepo() *mockCustomerRepo {
	return &mockCustomerRepo{
		customers: map[string]*customer.Customer{
			"c1": {ID: "c1", FirstName: "Lan", LastName: "Nguyen"},
		},
		addresses: map[string]*customer.Address{
			"a1": {
				ID: "a1", CustomerID: "c1", Line: "12", Street: "Le Loi",
				Ward: "Ben Nghe", City: "HCMC", District: "1", Country: "VN",
			},
		},
	}
}

func (m *memStore) addVariant(id, productID string, price int64, qty int) {
	if _, ok := m.products[productID]; !ok {
		m.products[productID] = catalog.Product{
			ID: productID, Name: "Product " + productID, Images: []string{productID + ".jpg"},
		}
	}
	m.variants[id] = catalog.Variant{
		ID: id, ProductID: productID, Price: price, Quantity: qty, Size: "M", Color: "black",
	}
}

func (m *memStore) attachOffer(productID string, o offer.SpecialOffer) {
	m.offers[o.ID] = o
	p := m.products[productID]
	p.SpecialOfferID = ptr(o.ID)
	m.products[productID] = p
}

func newTestService(t *testing.T, customers customer.Repository, store *memStore) *Service {
	t.Helper()
	svc, err := NewService(customers, store, store, store,
		WithClock(func() time.Time { return testNow }),
		WithTracerProvider(tracenoop.NewTracerProvider()),
		WithMeterProvider(metricnoop.NewMeterProvider()),
	)
	require.NoError(t, err)
	return svc
}

func assertNothingWritten(t *testing.T, store *memStore) {
	t.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.orders, "no order must be committed")
	assert.Empty(t, store.details, "no order detail must be committed")
}

func request(items ...LineItem) PlaceOrderRequest {
	return PlaceOrderRequest{CustomerID: "c1", AddressID: "a1", Items: items}
}

// --- Tests ---

func TestPlaceOrder_EmptyItems(t *testing.T) {
	svc := newTestService(t, newCustomerRepo(), newMemStore())

	_, err := svc.PlaceOrder(context.Background(), request())
	require.ErrorIs(t, err, ErrEmptyItems)
}

func TestPlaceOrder_InvalidQuantity(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	svc := newTestService(t, newCustomerRepo(), store)

	_, err := svc.PlaceOrder(context.Background(), request(LineItem{VariantID: "v1", Quantity: 0}))

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "v1", iqErr.VariantID)
}

func TestPlaceOrder_CustomerNotFound(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 1})
	req.CustomerID = "ghost"
	_, err := svc.PlaceOrder(context.Background(), req)

	var cnfErr *CustomerNotFoundError
	require.ErrorAs(t, err, &cnfErr)
	assert.Equal(t, "ghost", cnfErr.CustomerID)
	assert.ErrorIs(t, err, ErrAuthentication)
	assertNothingWritten(t, store)
	assert.Equal(t, 5, store.stock("v1"))
}

func TestPlaceOrder_AddressNotFound(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 1})
	req.AddressID = "nowhere"
	_, err := svc.PlaceOrder(context.Background(), req)

	var anfErr *AddressNotFoundError
	require.ErrorAs(t, err, &anfErr)
	assert.Equal(t, "nowhere", anfErr.AddressID)
	assert.ErrorIs(t, err, ErrNotFound)
	assertNothingWritten(t, store)
}

func TestPlaceOrder_AddressOfAnotherCustomer(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	customers := newCustomerRepo()
	customers.customers["c2"] = &customer.Customer{ID: "c2", FirstName: "Minh", LastName: "Tran"}
	customers.addresses["a2"] = &customer.Address{ID: "a2", CustomerID: "c2", Street: "Private St"}
	svc := newTestService(t, customers, store)

	req := request(LineItem{VariantID: "v1", Quantity: 1})
	req.AddressID = "a2"
	res, err := svc.PlaceOrder(context.Background(), req)

	require.Nil(t, res)
	var anfErr *AddressNotFoundError
	require.ErrorAs(t, err, &anfErr)
	assert.Equal(t, "a2", anfErr.AddressID)
	assert.ErrorIs(t, err, ErrNotFound)
	assertNothingWritten(t, store)
	assert.Equal(t, 5, store.stock("v1"))
}

func TestPlaceOrder_OrderOfferNotFound(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	// A product-scope offer must not resolve as an order offer.
	store.attachOffer("p1", offer.SpecialOffer{
		ID: "po", Scope: offer.ScopeProduct, Type: offer.TypePercent, Discount: 5, TotalQuantity: 10,
	})
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 1})
	req.SpecialOfferID = "po"
	_, err := svc.PlaceOrder(context.Background(), req)

	var onfErr *offer.NotFoundError
	require.ErrorAs(t, err, &onfErr)
	assert.Equal(t, "po", onfErr.OfferID)
	assertNothingWritten(t, store)
}

func TestPlaceOrder_OrderOfferExpired(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	store.offers["oo"] = offer.SpecialOffer{
		ID: "oo", Scope: offer.ScopeOrder, Type: offer.TypeFixed, Discount: 100, TotalQuantity: 10,
		StartTime: testNow.Add(-48 * time.Hour), EndTime: testNow.Add(-24 * time.Hour),
	}
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 1})
	req.SpecialOfferID = "oo"
	_, err := svc.PlaceOrder(context.Background(), req)

	require.ErrorIs(t, err, offer.ErrExpired)
	assertNothingWritten(t, store)
}

func TestPlaceOrder_VariantNotFound(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	svc := newTestService(t, newCustomerRepo(), store)

	_, err := svc.PlaceOrder(context.Background(), request(
		LineItem{VariantID: "v1", Quantity: 1},
		LineItem{VariantID: "missing", Quantity: 1},
	))

	var vnfErr *VariantNotFoundError
	require.ErrorAs(t, err, &vnfErr)
	assert.Equal(t, "missing", vnfErr.VariantID)
	assertNothingWritten(t, store)
	assert.Equal(t, 5, store.stock("v1"))
}

func TestPlaceOrder_OutOfStockLeavesEverythingUntouched(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	store.addVariant("v2", "p2", 2000, 1)
	store.attachOffer("p1", offer.SpecialOffer{
		ID: "po", Scope: offer.ScopeProduct, Type: offer.TypePercent, Discount: 10, TotalQuantity: 10,
	})
	svc := newTestService(t, newCustomerRepo(), store)

	_, err := svc.PlaceOrder(context.Background(), request(
		LineItem{VariantID: "v1", Quantity: 2},
		LineItem{VariantID: "v2", Quantity: 2},
	))

	var oosErr *OutOfStockError
	require.ErrorAs(t, err, &oosErr)
	assert.Equal(t, "v2", oosErr.VariantID)
	assertNothingWritten(t, store)
	assert.Equal(t, 5, store.stock("v1"))
	assert.Equal(t, 1, store.stock("v2"))
	assert.Equal(t, 0, store.offerState("po").UsedQuantity)
}

func TestPlaceOrder_DuplicateVariantSharesStock(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 3)
	svc := newTestService(t, newCustomerRepo(), store)

	_, err := svc.PlaceOrder(context.Background(), request(
		LineItem{VariantID: "v1", Quantity: 2},
		LineItem{VariantID: "v1", Quantity: 2},
	))
	require.ErrorIs(t, err, ErrOutOfStock)

	result, err := svc.PlaceOrder(context.Background(), request(
		LineItem{VariantID: "v1", Quantity: 1},
		LineItem{VariantID: "v1", Quantity: 2},
	))
	require.NoError(t, err)
	assert.Len(t, result.Details, 2)
	assert.Equal(t, 0, store.stock("v1"))
}

func TestPlaceOrder_ProductOfferPercent(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 100000, 10)
	store.attachOffer("p1", offer.SpecialOffer{
		ID: "po", Scope: offer.ScopeProduct, Type: offer.TypePercent, Discount: 10,
		TotalQuantity: 5, UsedQuantity: 0,
	})
	svc := newTestService(t, newCustomerRepo(), store)

	result, err := svc.PlaceOrder(context.Background(), request(LineItem{VariantID: "v1", Quantity: 2}))
	require.NoError(t, err)

	require.Len(t, result.Details, 1)
	d := result.Details[0]
	assert.Equal(t, int64(90000), d.Price)
	assert.Equal(t, int64(180000), d.Price*int64(d.Quantity))
	assert.Equal(t, int64(100000), d.Product.Price)
	assert.Equal(t, int64(90000), d.Product.DiscountedPrice)
	assert.Equal(t, 10, d.Product.Quantity, "snapshot records stock at purchase")
	assert.Equal(t, "Product p1", d.Product.Name)
	assert.Equal(t, "p1", d.ProductID)
	assert.Equal(t, result.Order.ID, d.OrderID)

	assert.Equal(t, int64(20000), result.ProductDiscount)
	assert.Equal(t, int64(200000), result.Order.SubTotal)
	assert.Equal(t, int64(20000), result.Order.Discount)
	assert.Equal(t, int64(180000), result.Order.TotalPrice)

	assert.Equal(t, 8, store.stock("v1"))
	po := store.offerState("po")
	assert.Equal(t, 2, po.UsedQuantity)
	assert.Equal(t, 3, po.TotalQuantity)
}

func TestPlaceOrder_ProductOfferSharedAllotment(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 5000, 10)
	store.addVariant("v2", "p1", 6000, 10)
	store.attachOffer("p1", offer.SpecialOffer{
		ID: "po", Scope: offer.ScopeProduct, Type: offer.TypeFixed, Discount: 1000,
		TotalQuantity: 3,
	})
	svc := newTestService(t, newCustomerRepo(), store)

	_, err := svc.PlaceOrder(context.Background(), request(
		LineItem{VariantID: "v1", Quantity: 2},
		LineItem{VariantID: "v2", Quantity: 2},
	))

	var exErr *offer.ExhaustedError
	require.ErrorAs(t, err, &exErr)
	assert.Equal(t, "po", exErr.OfferID)
	assertNothingWritten(t, store)
	assert.Equal(t, 10, store.stock("v1"))
	assert.Equal(t, 0, store.offerState("po").UsedQuantity)
}

func TestPlaceOrder_ExpiredProductOfferDoesNotApply(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 5000, 10)
	store.attachOffer("p1", offer.SpecialOffer{
		ID: "po", Scope: offer.ScopeProduct, Type: offer.TypeFixed, Discount: 1000,
		TotalQuantity: 3, EndTime: testNow.Add(-time.Hour),
	})
	svc := newTestService(t, newCustomerRepo(), store)

	result, err := svc.PlaceOrder(context.Background(), request(LineItem{VariantID: "v1", Quantity: 1}))
	require.NoError(t, err)

	assert.Equal(t, int64(5000), result.Order.TotalPrice)
	assert.Equal(t, int64(0), result.ProductDiscount)
	assert.Equal(t, 0, store.offerState("po").UsedQuantity)
}

func TestPlaceOrder_OrderOfferApplied(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 250000, 10)
	store.offers["oo"] = offer.SpecialOffer{
		ID: "oo", Code: "SAVE50K", Scope: offer.ScopeOrder, Type: offer.TypeFixed,
		Discount: 50000, Condition: ptr(int64(400000)), TotalQuantity: 10, UsedQuantity: 2,
	}
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 2})
	req.SpecialOfferID = "oo"
	req.Note = "leave at door"
	result, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, result.OfferApplied)
	assert.Equal(t, int64(50000), result.OrderDiscount)
	assert.Equal(t, int64(500000), result.Order.SubTotal)
	assert.Equal(t, int64(50000), result.Order.Discount)
	assert.Equal(t, int64(450000), result.Order.TotalPrice)
	require.NotNil(t, result.Order.SpecialOfferID)
	assert.Equal(t, "oo", *result.Order.SpecialOfferID)
	assert.Equal(t, StatusPending, result.Order.Status)
	assert.Equal(t, "leave at door", result.Order.Note)
	assert.Equal(t, "Le Loi", result.Order.ShippingAddress.Street)
	assert.NotEmpty(t, result.Order.Code)

	oo := store.offerState("oo")
	assert.Equal(t, 3, oo.UsedQuantity)
	assert.Equal(t, 9, oo.TotalQuantity)
}

func TestPlaceOrder_OrderOfferConditionUnmet(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 150000, 10)
	store.offers["oo"] = offer.SpecialOffer{
		ID: "oo", Scope: offer.ScopeOrder, Type: offer.TypeFixed,
		Discount: 50000, Condition: ptr(int64(400000)), TotalQuantity: 10,
	}
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 2})
	req.SpecialOfferID = "oo"
	result, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, result.OfferApplied)
	assert.Equal(t, int64(0), result.OrderDiscount)
	assert.Equal(t, int64(300000), result.Order.TotalPrice)
	assert.Nil(t, result.Order.SpecialOfferID)

	oo := store.offerState("oo")
	assert.Equal(t, 0, oo.UsedQuantity)
	assert.Equal(t, 10, oo.TotalQuantity)
}

func TestPlaceOrder_OrderOfferExhausted(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 150000, 10)
	store.offers["oo"] = offer.SpecialOffer{
		ID: "oo", Scope: offer.ScopeOrder, Type: offer.TypePercent,
		Discount: 5, TotalQuantity: 4, UsedQuantity: 4,
	}
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 1})
	req.SpecialOfferID = "oo"
	_, err := svc.PlaceOrder(context.Background(), req)

	require.ErrorIs(t, err, offer.ErrExhausted)
	assertNothingWritten(t, store)
	assert.Equal(t, 10, store.stock("v1"))
}

func TestPlaceOrder_CombinedDiscountsAndTotals(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 100000, 10)
	store.addVariant("v2", "p2", 50000, 10)
	store.attachOffer("p1", offer.SpecialOffer{
		ID: "po", Scope: offer.ScopeProduct, Type: offer.TypePercent, Discount: 10, TotalQuantity: 5,
	})
	store.offers["oo"] = offer.SpecialOffer{
		ID: "oo", Scope: offer.ScopeOrder, Type: offer.TypePercent, Discount: 10, TotalQuantity: 5,
	}
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(
		LineItem{VariantID: "v1", Quantity: 2},
		LineItem{VariantID: "v2", Quantity: 1},
	)
	req.SpecialOfferID = "oo"
	result, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	// Lines: 2 x 90000 + 1 x 50000 = 230000 after product offer.
	// Order offer: floor(230000 * 10 / 100) = 23000.
	o := result.Order
	assert.Equal(t, int64(250000), o.SubTotal)
	assert.Equal(t, int64(20000), result.ProductDiscount)
	assert.Equal(t, int64(23000), result.OrderDiscount)
	assert.Equal(t, o.SubTotal-(result.ProductDiscount+result.OrderDiscount), o.TotalPrice)
	assert.Equal(t, int64(207000), o.TotalPrice)
	assert.GreaterOrEqual(t, o.TotalPrice, int64(0))

	assert.Equal(t, 2, store.offerState("po").UsedQuantity)
	assert.Equal(t, 1, store.offerState("oo").UsedQuantity)
}

func TestPlaceOrder_FixedOrderDiscountFlooredAtZero(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 10)
	store.offers["oo"] = offer.SpecialOffer{
		ID: "oo", Scope: offer.ScopeOrder, Type: offer.TypeFixed, Discount: 999999, TotalQuantity: 1,
	}
	svc := newTestService(t, newCustomerRepo(), store)

	req := request(LineItem{VariantID: "v1", Quantity: 1})
	req.SpecialOfferID = "oo"
	result, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, int64(0), result.Order.TotalPrice)
	assert.Equal(t, int64(1000), result.Order.Discount)
}

func TestPlaceOrder_PersistenceFailureRollsBack(t *testing.T) {
	for _, step := range []string{"create_order", "create_details", "reserve", "consume"} {
		t.Run(step, func(t *testing.T) {
			store := newMemStore()
			store.addVariant("v1", "p1", 100000, 10)
			store.attachOffer("p1", offer.SpecialOffer{
				ID: "po", Scope: offer.ScopeProduct, Type: offer.TypePercent, Discount: 10, TotalQuantity: 5,
			})
			store.failOn[step] = errors.New("connection reset")
			svc := newTestService(t, newCustomerRepo(), store)

			_, err := svc.PlaceOrder(context.Background(), request(LineItem{VariantID: "v1", Quantity: 2}))

			require.ErrorIs(t, err, ErrPersistence)
			assert.Contains(t, err.Error(), "connection reset")
			assertNothingWritten(t, store)
			assert.Equal(t, 10, store.stock("v1"))
			assert.Equal(t, 0, store.offerState("po").UsedQuantity)
		})
	}
}

func TestPlaceOrder_LookupFailureIsPersistence(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	customers := newCustomerRepo()
	customers.err = errors.New("db down")
	svc := newTestService(t, customers, store)

	_, err := svc.PlaceOrder(context.Background(), request(LineItem{VariantID: "v1", Quantity: 1}))

	require.ErrorIs(t, err, ErrPersistence)
	assert.NotErrorIs(t, err, ErrAuthentication)
}

func TestPlaceOrder_ConcurrentLastUnit(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 1)
	// Both placements read the variant before either commits, so only the
	// conditional stock update can reject the second one.
	store.barrier = &sync.WaitGroup{}
	store.barrier.Add(2)
	svc := newTestService(t, newCustomerRepo(), store)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.PlaceOrder(context.Background(), request(LineItem{VariantID: "v1", Quantity: 1}))
		}()
	}
	wg.Wait()

	var succeeded, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, outOfStock)
	assert.Equal(t, 0, store.stock("v1"))
	assert.Len(t, store.orders, 1)
}

func TestPlaceOrder_CodeGenerator(t *testing.T) {
	store := newMemStore()
	store.addVariant("v1", "p1", 1000, 5)
	svc, err := NewService(newCustomerRepo(), store, store, store,
		WithClock(func() time.Time { return testNow }),
		WithCodeGenerator(func(now time.Time) string { return "ORD-" + now.Format("20060102") }),
	)
	require.NoError(t, err)

	result, err := svc.PlaceOrder(context.Background(), request(LineItem{VariantID: "v1", Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, "ORD-20260301", result.Order.Code)
	assert.Equal(t, DefaultPaymentMethod, result.Order.PaymentMethod)
}

func TestTimeCode(t *testing.T) {
	a := TimeCode(testNow)
	b := TimeCode(testNow)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("1772366400000")+8)
	assert.Equal(t, "1772366400000", a[:13])
}
