package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/handler"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/notification"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/orderid"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/payment"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/pricing"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/review"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/transport"
)

type nopNotifier struct{}

func (nopNotifier) Dispatch(notification.Message) {}

func newTestRouter(t *testing.T, ping func(context.Context) error) http.Handler {
	t.Helper()

	store := catalog.NewMemoryStore()
	stock := inventory.NewMemoryRepository()
	ledger, err := inventory.NewLedger(inventory.LedgerDeps{Repository: stock})
	require.NoError(t, err)

	orderSvc, err := order.NewService(order.ServiceDeps{
		Orders:   order.NewMemoryRepository(),
		Carts:    store,
		Products: store,
		Pricing:  pricing.NewEngine(store),
		Ledger:   ledger,
		IDs:      orderid.NewGenerator(),
		Payments: payment.TrustVerifier{},
		Notifier: nopNotifier{},
	})
	require.NoError(t, err)

	reviewSvc, err := review.NewService(review.ServiceDeps{Reviews: review.NewMemoryRepository(), Orders: orderSvc})
	require.NoError(t, err)

	return transport.NewRouter(transport.RouterDeps{
		Orders:  handler.NewOrderHandler(orderSvc),
		Reviews: handler.NewReviewHandler(reviewSvc),
		Catalog: handler.NewCatalogHandler(catalog.NewCartService(store), ledger),
		Ping:    ping,
	})
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name     string
		ping     func(context.Context) error
		wantCode int
	}{
		{name: "no_ping", wantCode: http.StatusOK},
		{name: "healthy", ping: func(context.Context) error { return nil }, wantCode: http.StatusOK},
		{name: "db_down", ping: func(context.Context) error { return errors.New("dial tcp: refused") }, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newTestRouter(t, tt.ping).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}
}

func TestRouter_MountsAllRoutes(t *testing.T) {
	router := newTestRouter(t, nil)

	tests := []struct {
		method, target string
		wantCode       int
	}{
		{http.MethodGet, "/users/me/orders", http.StatusUnauthorized},
		{http.MethodGet, "/products/A/stock", http.StatusNotFound},
		{http.MethodGet, "/products/A/reviews", http.StatusOK},
		{http.MethodPatch, "/orders/20250517abcdef0123/status", http.StatusBadRequest},
		{http.MethodGet, "/nowhere", http.StatusNotFound},
	}

	for _, tt := range tests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.target, nil))
		assert.Equal(t, tt.wantCode, rr.Code, "%s %s", tt.method, tt.target)
	}
}
