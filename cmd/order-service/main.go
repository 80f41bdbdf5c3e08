package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/db"
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

// storage groups the repositories of one storage driver.
type storage struct {
	orders   order.Repository
	carts    catalog.CartRepository
	products catalog.ProductRepository
	coupons  pricing.CouponProvider
	stock    inventory.Repository
	reviews  review.Repository
	ping     func(ctx context.Context) error
	close    func()
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Info().Msg("Order service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App)
	log.Debug().Str("storage", cfg.App.StorageDriver).Str("notify", cfg.Notify.Driver).Str("payment", cfg.Payment.Verifier).Msg("Configuration loaded")

	ctx := context.Background()

	store, err := openStorage(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.close()

	coupons := store.coupons
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unreachable, coupon cache will fall back to storage")
		}
		coupons = catalog.NewCachedCoupons(catalog.NewRedisCouponCache(client), coupons, cfg.Redis.CouponTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.CouponTTL).Msg("Coupon cache enabled")
	}

	sender, closeSender, err := openSender(cfg.Notify)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up notification sender")
	}
	defer closeSender()
	dispatcher := notification.NewDispatcher(sender, cfg.Notify.SendTimeout)

	verifier, err := newVerifier(cfg.Payment)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up payment verifier")
	}

	ledger, err := inventory.NewLedger(inventory.LedgerDeps{
		Repository:  store.stock,
		MaxAttempts: cfg.Order.ReserveMaxAttempts,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create inventory ledger")
	}

	orderSvc, err := order.NewService(order.ServiceDeps{
		Orders:          store.orders,
		Carts:           store.carts,
		Products:        store.products,
		Pricing:         pricing.NewEngine(coupons),
		Ledger:          ledger,
		IDs:             orderid.NewGenerator(),
		Payments:        verifier,
		Notifier:        dispatcher,
		RestockOnCancel: cfg.Order.RestockOnCancel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create order service")
	}

	reviewSvc, err := review.NewService(review.ServiceDeps{Reviews: store.reviews, Orders: orderSvc})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create review service")
	}

	router := transport.NewRouter(transport.RouterDeps{
		Orders:  handler.NewOrderHandler(orderSvc),
		Reviews: handler.NewReviewHandler(reviewSvc),
		Catalog: handler.NewCatalogHandler(catalog.NewCartService(store.carts), ledger),
		Ping:    store.ping,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Gave up waiting for in-flight notifications")
	}

	log.Info().Msg("Order service stopped gracefully")
}

func setupLogger(app config.AppConfig) {
	level, err := zerolog.ParseLevel(app.LogLevel)
	if err != nil {
		log.Warn().Str("log_level", app.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if app.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	log.Logger = log.With().Str("service", app.Name).Logger()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.App.StorageDriver == "memory" {
		log.Warn().Msg("Using in-memory storage, data is lost on restart")
		mem := catalog.NewMemoryStore()
		stock := inventory.NewMemoryRepository()
		seedDemoCatalog(mem, stock)
		return &storage{
			orders:   order.NewMemoryRepository(),
			carts:    mem,
			products: mem,
			coupons:  mem,
			stock:    stock,
			reviews:  review.NewMemoryRepository(),
			close:    func() {},
		}, nil
	}

	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, err
	}
	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	return &storage{
		orders:   order.NewRepository(pg.Pool),
		carts:    catalog.NewCartRepository(pg.Pool),
		products: catalog.NewProductRepository(pg.Pool),
		coupons:  catalog.NewCouponRepository(pg.Pool),
		stock:    inventory.NewRepository(pg.Pool),
		reviews:  review.NewRepository(pg.Pool),
		ping:     pg.Pool.Ping,
		close:    pg.Close,
	}, nil
}

func seedDemoCatalog(mem *catalog.MemoryStore, stock *inventory.MemoryRepository) {
	for _, p := range []struct {
		product catalog.Product
		stock   int
	}{
		{catalog.Product{ID: "lamp-01", Name: "Desk lamp", MRP: 1200, SalePrice: 999}, 25},
		{catalog.Product{ID: "rug-01", Name: "Wool rug", MRP: 5400}, 5},
		{catalog.Product{ID: "mug-01", Name: "Ceramic mug", MRP: 300}, 100},
	} {
		mem.PutProduct(p.product)
		stock.PutStock(p.product.ID, p.stock, 0)
	}
	mem.PutCoupon(pricing.Coupon{Code: "WELCOME10", DiscountPercent: 10, IsActive: true})
}

func openSender(cfg config.NotifyConfig) (notification.Sender, func(), error) {
	switch cfg.Driver {
	case "kafka":
		sender := notification.NewKafkaSender(notification.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("Notifications go to Kafka")
		return sender, func() {
			if err := sender.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close Kafka writer")
			}
		}, nil
	case "rabbitmq":
		conn, ch, err := notification.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("exchange", cfg.AMQPExchange).Str("routing_key", cfg.AMQPRouting).Msg("Notifications go to RabbitMQ")
		return notification.NewAMQPSender(ch, cfg.AMQPExchange, cfg.AMQPRouting), func() {
			_ = ch.Close()
			if err := conn.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close RabbitMQ connection")
			}
		}, nil
	default:
		return notification.LogSender{}, func() {}, nil
	}
}

func newVerifier(cfg config.PaymentConfig) (payment.Verifier, error) {
	if cfg.Verifier == "stripe" {
		verifier, err := payment.NewStripeVerifier(cfg.StripeAPIKey)
		if err != nil {
			return nil, err
		}
		return verifier, nil
	}
	log.Warn().Msg("Payment verifier is in trust mode, transaction ids are not checked")
	return payment.TrustVerifier{}, nil
}
