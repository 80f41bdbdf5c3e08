package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/handler"
)

type RouterDeps struct {
	Orders  *handler.OrderHandler
	Reviews *handler.ReviewHandler
	Catalog *handler.CatalogHandler
	// Ping backs /health; nil means always healthy.
	Ping func(ctx context.Context) error
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ping(ctx); err != nil {
				log.Error().Err(err).Msg("transport: health check failed")
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("OK"))
	})

	deps.Orders.RegisterRoutes(r)
	deps.Reviews.RegisterRoutes(r)
	deps.Catalog.RegisterRoutes(r)

	return r
}
