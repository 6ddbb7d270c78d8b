package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

func (h *Handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryPage(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := order.ListFilter{
		Search:        q.Get("search"),
		Status:        order.Status(q.Get("status")),
		SortByTotal:   order.TotalSort(q.Get("sortByTotal")),
		SortByCreated: order.CreatedSort(q.Get("sortByCreated")),
	}
	switch filter.SortByTotal {
	case "", order.SortCheapest, order.SortExpensive:
	default:
		fail(w, r, badRequest("sortByTotal must be %q or %q", order.SortCheapest, order.SortExpensive))
		return
	}
	switch filter.SortByCreated {
	case "", order.SortNewest, order.SortOldest:
	default:
		fail(w, r, badRequest("sortByCreated must be %q or %q", order.SortNewest, order.SortOldest))
		return
	}

	items, total, err := h.orders.ListForAdmin(r.Context(), filter, page)
	if err != nil {
		fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("items")
	encodeSummaries(&e, items)
	e.FieldStart("total")
	e.Int(total)
	e.FieldStart("skip")
	e.Int(page.Skip)
	e.FieldStart("limit")
	e.Int(page.Limit)
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.orders.GetForAdmin(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeView(&e, view)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) adminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		fail(w, r, err)
		return
	}
	status, err := decodeStatus(data)
	if err != nil {
		fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := h.orders.UpdateStatus(r.Context(), id, status); err != nil {
		fail(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id)
	e.FieldStart("status")
	e.Str(string(status))
	e.ObjEnd()
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) adminStatistics(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		fail(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		fail(w, r, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		fail(w, r, badRequest("to must not be before from"))
		return
	}

	stats, err := h.orders.Statistics(r.Context(), from, to)
	if err != nil {
		fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeStats(&e, stats)
	writeJSON(w, http.StatusOK, &e)
}
