package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/customer"
	"github.com/xenking/storefront/internal/domain/order"
)

// BadRequestError is client input that could not be parsed.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, badRequest("request body is empty")
	}
	return data, nil
}

func decodePlaceOrder(data []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "addressId":
			req.AddressID, err = d.Str()
		case "specialOfferId":
			req.SpecialOfferID, err = optStr(d)
		case "note":
			req.Note, err = optStr(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				var item order.LineItem
				if err := d.Obj(func(d *jx.Decoder, key string) error {
					var err error
					switch key {
					case "variantId":
						item.VariantID, err = d.Str()
					case "quantity":
						item.Quantity, err = d.Int()
					default:
						err = d.Skip()
					}
					return err
				}); err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return req, badRequest("malformed request body: %v", err)
	}
	return req, nil
}

func decodeStatus(data []byte) (order.Status, error) {
	var status string
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		var err error
		status, err = d.Str()
		return err
	})
	if err != nil {
		return "", badRequest("malformed request body: %v", err)
	}
	if status == "" {
		return "", badRequest("status is required")
	}
	return order.Status(status), nil
}

// optStr reads a string that may be null.
func optStr(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return n, nil
}

func queryPage(r *http.Request) (order.Page, error) {
	skip, err := queryInt(r, "skip")
	if err != nil {
		return order.Page{}, err
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return order.Page{}, err
	}
	return order.Page{Skip: skip, Limit: limit}.Normalize(), nil
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, badRequest("%s must be an RFC 3339 timestamp", name)
	}
	return t, nil
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("code")
	e.Str(o.Code)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("subTotal")
	e.Int64(o.SubTotal)
	e.FieldStart("discount")
	e.Int64(o.Discount)
	e.FieldStart("totalPrice")
	e.Int64(o.TotalPrice)
	e.FieldStart("note")
	e.Str(o.Note)
	e.FieldStart("paymentMethod")
	e.Str(o.PaymentMethod)
	e.FieldStart("shippingAddress")
	encodeAddress(e, o.ShippingAddress)
	e.FieldStart("customerId")
	e.Str(o.CustomerID)
	e.FieldStart("specialOfferId")
	if o.SpecialOfferID != nil {
		e.Str(*o.SpecialOfferID)
	} else {
		e.Null()
	}
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)
	e.ObjEnd()
}

func encodeAddress(e *jx.Encoder, a order.ShippingAddress) {
	e.ObjStart()
	for _, f := range [...]struct{ name, value string }{
		{"line", a.Line},
		{"street", a.Street},
		{"ward", a.Ward},
		{"city", a.City},
		{"district", a.District},
		{"country", a.Country},
	} {
		e.FieldStart(f.name)
		e.Str(f.value)
	}
	e.ObjEnd()
}

func encodeDetails(e *jx.Encoder, details []order.Detail) {
	e.ArrStart()
	for _, d := range details {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(d.ID)
		e.FieldStart("productId")
		e.Str(d.ProductID)
		e.FieldStart("variantId")
		e.Str(d.VariantID)
		e.FieldStart("quantity")
		e.Int(d.Quantity)
		e.FieldStart("price")
		e.Int64(d.Price)
		e.FieldStart("product")
		encodeSnapshot(e, d.Product)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeSnapshot(e *jx.Encoder, s order.Snapshot) {
	e.ObjStart()
	e.FieldStart("name")
	e.Str(s.Name)
	e.FieldStart("images")
	e.ArrStart()
	for _, img := range s.Images {
		e.Str(img)
	}
	e.ArrEnd()
	e.FieldStart("price")
	e.Int64(s.Price)
	e.FieldStart("discountedPrice")
	e.Int64(s.DiscountedPrice)
	e.FieldStart("quantity")
	e.Int(s.Quantity)
	e.FieldStart("size")
	e.Str(s.Size)
	e.FieldStart("color")
	e.Str(s.Color)
	e.ObjEnd()
}

func encodeCustomer(e *jx.Encoder, c *customer.Customer) {
	if c == nil {
		e.Null()
		return
	}
	e.ObjStart()
	e.FieldStart("id")
	e.Str(c.ID)
	e.FieldStart("name")
	e.Str(c.FullName())
	e.FieldStart("email")
	e.Str(c.Email)
	e.FieldStart("phone")
	e.Str(c.Phone)
	e.ObjEnd()
}

func encodePlaceResult(e *jx.Encoder, res *order.PlaceOrderResult) {
	e.ObjStart()
	e.FieldStart("order")
	encodeOrder(e, res.Order)
	e.FieldStart("details")
	encodeDetails(e, res.Details)
	e.FieldStart("offerApplied")
	e.Bool(res.OfferApplied)
	e.FieldStart("productDiscount")
	e.Int64(res.ProductDiscount)
	e.FieldStart("orderDiscount")
	e.Int64(res.OrderDiscount)
	e.ObjEnd()
}

func encodeView(e *jx.Encoder, v *order.View) {
	e.ObjStart()
	e.FieldStart("order")
	encodeOrder(e, v.Order)
	e.FieldStart("details")
	encodeDetails(e, v.Details)
	e.FieldStart("customer")
	encodeCustomer(e, v.Customer)
	e.ObjEnd()
}

func encodeSummaries(e *jx.Encoder, items []order.Summary) {
	e.ArrStart()
	for _, s := range items {
		e.ObjStart()
		e.FieldStart("id")
		e.Str(s.ID)
		e.FieldStart("code")
		e.Str(s.Code)
		e.FieldStart("status")
		e.Str(string(s.Status))
		e.FieldStart("subTotal")
		e.Int64(s.SubTotal)
		e.FieldStart("discount")
		e.Int64(s.Discount)
		e.FieldStart("totalPrice")
		e.Int64(s.TotalPrice)
		e.FieldStart("paymentMethod")
		e.Str(s.PaymentMethod)
		e.FieldStart("customerName")
		e.Str(s.CustomerName)
		e.FieldStart("createdAt")
		encodeTime(e, s.CreatedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeStats(e *jx.Encoder, s *order.Stats) {
	e.ObjStart()
	e.FieldStart("newOrders")
	e.Int(s.NewOrders)
	// Sums of integer amounts are exact integers.
	e.FieldStart("totalSales")
	e.Raw([]byte(s.TotalSales.String()))
	e.FieldStart("totalRevenue")
	e.Raw([]byte(s.TotalRevenue.String()))
	e.ObjEnd()
}
