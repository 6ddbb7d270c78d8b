package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/offer"
	"github.com/xenking/storefront/internal/domain/order"
)

// statusOf maps a domain error to its HTTP status. Unknown errors are 500.
func statusOf(err error) int {
	var (
		brErr *BadRequestError
		iqErr *order.InvalidQuantityError
		isErr *order.InvalidStatusError
	)
	switch {
	case errors.Is(err, order.ErrPersistence):
		return http.StatusInternalServerError
	case errors.As(err, &brErr), errors.Is(err, order.ErrEmptyItems):
		return http.StatusBadRequest
	case errors.As(err, &iqErr), errors.As(err, &isErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, order.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, offer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrOutOfStock),
		errors.Is(err, offer.ErrExhausted),
		errors.Is(err, offer.ErrExpired),
		errors.Is(err, order.ErrRequestInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an error response. Server errors are logged and their
// message is not exposed.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, code, "internal server error")
		return
	}
	writeError(w, code, err.Error())
}

// writeError renders the {"code":N,"message":"..."} error body.
func writeError(w http.ResponseWriter, code int, msg string) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(msg)
	e.ObjEnd()
	writeJSON(w, code, &e)
}

func writeJSON(w http.ResponseWriter, code int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
