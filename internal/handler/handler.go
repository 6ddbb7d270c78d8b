// Package handler implements the storefront HTTP API on net/http with a
// go-faster/jx JSON codec.
package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/order"
)

// Scopes granted to admin API keys.
const (
	ScopeOrdersRead  = "orders:read"
	ScopeOrdersWrite = "orders:write"
)

// IdempotencyKeyHeader lets a client retry a placement without creating a
// second order.
const IdempotencyKeyHeader = "Idempotency-Key"

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// OrderPlacer places orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

// OrderQuerier reads orders and changes their status.
type OrderQuerier interface {
	GetForCustomer(ctx context.Context, orderID, customerID string) (*order.View, error)
	GetForAdmin(ctx context.Context, orderID string) (*order.View, error)
	ListForCustomer(ctx context.Context, customerID string, page order.Page) ([]order.Summary, error)
	ListForAdmin(ctx context.Context, filter order.ListFilter, page order.Page) ([]order.Summary, int, error)
	UpdateStatus(ctx context.Context, orderID string, status order.Status) error
	Statistics(ctx context.Context, from, to time.Time) (*order.Stats, error)
}

// TokenVerifier resolves a bearer token to a customer id.
type TokenVerifier interface {
	CustomerID(token string) (string, error)
}

// Idempotency maps a customer's idempotency key to the order it created.
// Reserve returns a non-empty token when it claimed the key, or the order id
// of a completed earlier request. It returns an error matching
// order.ErrRequestInProgress while another request holds the key. Complete
// and Release only act while the token still holds the key.
type Idempotency interface {
	Reserve(ctx context.Context, customerID, key string) (orderID, token string, err error)
	Complete(ctx context.Context, customerID, key, token, orderID string) error
	Release(ctx context.Context, customerID, key, token string) error
}

// HandlerConfig holds optional collaborators of the Handler.
type HandlerConfig struct {
	// Idempotency enables Idempotency-Key support on placement. Nil
	// disables it and the header is ignored.
	Idempotency Idempotency
}

// Handler serves the customer and admin order endpoints.
type Handler struct {
	placer   OrderPlacer
	orders   OrderQuerier
	tokens   TokenVerifier
	security *SecurityHandler
	idem     Idempotency
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	placer OrderPlacer,
	orders OrderQuerier,
	tokens TokenVerifier,
	security *SecurityHandler,
) *Handler {
	return &Handler{
		placer:   placer,
		orders:   orders,
		tokens:   tokens,
		security: security,
		idem:     cfg.Idempotency,
	}
}

// Register mounts all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.customer(h.placeOrder))
	mux.HandleFunc("GET /api/orders", h.customer(h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.customer(h.getOrder))

	mux.HandleFunc("GET /api/admin/orders", h.admin(ScopeOrdersRead, h.adminListOrders))
	mux.HandleFunc("GET /api/admin/orders/stats", h.admin(ScopeOrdersRead, h.adminStatistics))
	mux.HandleFunc("GET /api/admin/orders/{id}", h.admin(ScopeOrdersRead, h.adminGetOrder))
	mux.HandleFunc("PUT /api/admin/orders/{id}/status", h.admin(ScopeOrdersWrite, h.adminUpdateStatus))
}

type customerHandlerFunc func(w http.ResponseWriter, r *http.Request, customerID string)

// customer authenticates the bearer token before calling next.
func (h *Handler) customer(next customerHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		customerID, err := h.tokens.CustomerID(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next(w, r, customerID)
	}
}

// admin authenticates the api_key header and requires scope.
func (h *Handler) admin(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := h.security.HandleAPIKey(r.Context(), r.Header.Get(APIKeyHeader))
		switch {
		case errors.Is(err, ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		case err != nil:
			zctx.From(r.Context()).Error("API key lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if !info.HasScope(scope) {
			writeError(w, http.StatusForbidden, "api key lacks scope "+scope)
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	v := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
