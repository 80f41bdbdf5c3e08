package order_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/config"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/db"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/order"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	host := os.Getenv("DB_HOST_TEST")
	if host == "" {
		os.Exit(m.Run())
	}

	cfg := config.PostgresConfig{
		Host:            host,
		Port:            envOr("DB_PORT_TEST", "5432"),
		User:            envOr("DB_USER_TEST", "postgres"),
		Password:        envOr("DB_PASSWORD_TEST", "123456"),
		DBName:          envOr("DB_NAME_TEST", "orders_test"),
		SSLMode:         "disable",
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: 30 * time.Minute,
		MigrationsPath:  "../../migrations",
	}

	if err := db.Migrate(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate test database")
	}
	pg, err := db.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to test database")
	}
	testPool = pg.Pool

	exitCode := m.Run()

	pg.Close()
	os.Exit(exitCode)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupPostgres(t *testing.T) order.Repository {
	t.Helper()
	if testPool == nil {
		t.Skip("DB_HOST_TEST is not set")
	}

	truncate := func() {
		_, err := testPool.Exec(context.Background(), "TRUNCATE TABLE reviews, order_tracking, orders RESTART IDENTITY CASCADE")
		require.NoError(t, err)
	}
	truncate()
	t.Cleanup(truncate)

	return order.NewRepository(testPool)
}

func sampleOrder(id, userID string, createdAt time.Time) *order.Order {
	return &order.Order{
		ID:              id,
		UserID:          userID,
		ReservationID:   "res-" + id,
		LineItems:       []order.LineItem{{ProductID: "A", Quantity: 2, UnitPrice: 500}},
		Subtotal:        1000,
		TotalPrice:      900,
		CouponCode:      "TEN",
		PaymentMethod:   order.PaymentCashOnDelivery,
		PaymentStatus:   order.PaymentPending,
		Status:          order.StatusPlaced,
		Recipient:       "buyer@example.com",
		ShippingAddress: address,
		Tracking:        make([]order.TrackingEntry, 0),
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestPostgresRepository_CreateAndGet(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	want := sampleOrder("20250517aaaaaaaaaa", "u1", now)
	require.NoError(t, repo.Create(ctx, want))

	got, err := repo.GetByID(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.LineItems, got.LineItems)
	assert.Equal(t, want.ShippingAddress, got.ShippingAddress)
	assert.Equal(t, want.ReservationID, got.ReservationID)
	assert.Equal(t, "TEN", got.CouponCode)
	assert.Empty(t, got.TransactionID)
	assert.Equal(t, order.StatusPlaced, got.Status)
	assert.True(t, now.Equal(got.CreatedAt))
	assert.Empty(t, got.Tracking)

	err = repo.Create(ctx, sampleOrder(want.ID, "u2", now))
	assert.ErrorIs(t, err, order.ErrDuplicateOrderID)

	_, err = repo.GetByID(ctx, "20250517ffffffffff")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_GetByUserIDNewestFirst(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, repo.Create(ctx, sampleOrder("20250517000000000a", "u1", base)))
	require.NoError(t, repo.Create(ctx, sampleOrder("20250517000000000b", "u1", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, sampleOrder("20250517000000000c", "u2", base)))
	require.NoError(t, repo.AddTracking(ctx, "20250517000000000a", order.TrackingEntry{Location: "Hub", CreatedAt: base}))

	orders, err := repo.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, "20250517000000000b", orders[0].ID)
	assert.Empty(t, orders[0].Tracking)
	require.Len(t, orders[1].Tracking, 1)
	assert.Equal(t, "Hub", orders[1].Tracking[0].Location)

	none, err := repo.GetByUserID(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPostgresRepository_UpdateStatusIsGuarded(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Create(ctx, sampleOrder("20250517aaaaaaaaaa", "u1", now)))

	err := repo.UpdateStatus(ctx, order.StatusUpdate{
		OrderID:       "20250517aaaaaaaaaa",
		From:          order.StatusPlaced,
		To:            order.StatusDelivered,
		PaymentStatus: order.PaymentCompleted,
		At:            now.Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, "20250517aaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)
	assert.Equal(t, order.PaymentCompleted, got.PaymentStatus)
	assert.True(t, now.Add(time.Hour).Equal(got.UpdatedAt))

	err = repo.UpdateStatus(ctx, order.StatusUpdate{
		OrderID: "20250517aaaaaaaaaa",
		From:    order.StatusPlaced,
		To:      order.StatusCancelled,
		At:      now,
	})
	assert.ErrorIs(t, err, order.ErrStatusConflict)

	err = repo.UpdateStatus(ctx, order.StatusUpdate{OrderID: "20250517ffffffffff", From: order.StatusPlaced, To: order.StatusShipped, At: now})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_AddTrackingUnknownOrder(t *testing.T) {
	repo := setupPostgres(t)

	err := repo.AddTracking(context.Background(), "20250517ffffffffff", order.TrackingEntry{Location: "Hub", CreatedAt: time.Now().UTC()})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_TransactionIDIsSingleUse(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	paid := func(id, txID string) *order.Order {
		o := sampleOrder(id, "u1", now)
		o.PaymentMethod = order.PaymentGateway
		o.PaymentStatus = order.PaymentCompleted
		o.Status = order.StatusConfirmed
		o.TransactionID = txID
		return o
	}

	require.NoError(t, repo.Create(ctx, paid("20250517aaaaaaaaaa", "pi_paid_once")))
	// COD orders store no transaction id and never collide with each other.
	require.NoError(t, repo.Create(ctx, sampleOrder("20250517bbbbbbbbbb", "u1", now)))
	require.NoError(t, repo.Create(ctx, sampleOrder("20250517cccccccccc", "u1", now)))

	err := repo.Create(ctx, paid("20250517dddddddddd", "pi_paid_once"))
	assert.ErrorIs(t, err, order.ErrTransactionAlreadyUsed)
	assert.NotErrorIs(t, err, order.ErrDuplicateOrderID)

	_, err = repo.GetByID(ctx, "20250517dddddddddd")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestPostgresRepository_AddTrackingRejectsTerminalOrders(t *testing.T) {
	repo := setupPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Create(ctx, sampleOrder("20250517aaaaaaaaaa", "u1", now)))

	require.NoError(t, repo.UpdateStatus(ctx, order.StatusUpdate{
		OrderID: "20250517aaaaaaaaaa",
		From:    order.StatusPlaced,
		To:      order.StatusCancelled,
		At:      now,
	}))

	err := repo.AddTracking(ctx, "20250517aaaaaaaaaa", order.TrackingEntry{Location: "Hub", CreatedAt: now.Add(time.Minute)})
	assert.ErrorIs(t, err, order.ErrTerminalState)

	got, err := repo.GetByID(ctx, "20250517aaaaaaaaaa")
	require.NoError(t, err)
	assert.Empty(t, got.Tracking)
	assert.True(t, now.Equal(got.UpdatedAt))
}
