package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// placeOrder decodes the request, delegates to the order service and renders
// the receipt. With an Idempotency-Key, a retried request returns the order
// created by the first one instead of placing another.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request, customerID string) {
	ctx := r.Context()

	data, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	req, err := decodePlaceOrder(data)
	if err != nil {
		fail(w, r, err)
		return
	}
	req.CustomerID = customerID

	key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if key == "" || h.idem == nil {
		h.place(w, r, req)
		return
	}

	orderID, token, err := h.idem.Reserve(ctx, customerID, key)
	if err != nil {
		fail(w, r, err)
		return
	}
	if token == "" {
		view, err := h.orders.GetForCustomer(ctx, orderID, customerID)
		if err != nil {
			fail(w, r, err)
			return
		}
		var e jx.Encoder
		encodeView(&e, view)
		w.Header().Set("Idempotent-Replayed", "true")
		writeJSON(w, http.StatusOK, &e)
		return
	}

	// Record the outcome even if the client went away.
	bg := context.WithoutCancel(ctx)
	placedID, ok := h.place(w, r, req)
	lg := zctx.From(ctx).With(zap.String("idempotency_key", key))
	if !ok {
		if err := h.idem.Release(bg, customerID, key, token); err != nil {
			lg.Warn("Release idempotency key", zap.Error(err))
		}
		return
	}
	if err := h.idem.Complete(bg, customerID, key, token, placedID); err != nil {
		lg.Warn("Complete idempotency key", zap.Error(err))
	}
}

// place runs the placement and writes the response. It returns the new order
// id and whether the order was committed.
func (h *Handler) place(w http.ResponseWriter, r *http.Request, req order.PlaceOrderRequest) (string, bool) {
	res, err := h.placer.PlaceOrder(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return "", false
	}
	var e jx.Encoder
	encodePlaceResult(&e, res)
	w.Header().Set("Location", "/api/orders/"+res.Order.ID)
	writeJSON(w, http.StatusCreated, &e)
	return res.Order.ID, true
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, customerID string) {
	page, err := queryPage(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	items, err := h.orders.ListForCustomer(r.Context(), customerID, page)
	if err != nil {
		fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("items")
	encodeSummaries(&e, items)
	e.FieldStart("skip")
	e.Int(page.Skip)
	e.FieldStart("limit")
	e.Int(page.Limit)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, customerID string) {
	view, err := h.orders.GetForCustomer(r.Context(), r.PathValue("id"), customerID)
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeView(&e, view)
	writeJSON(w, http.StatusOK, &e)
}
