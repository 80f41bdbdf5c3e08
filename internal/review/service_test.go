package review_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/review"
)

type MockOrderLookup struct {
	mock.Mock
}

func (m *MockOrderLookup) GetOrder(ctx context.Context, orderID string) (*order.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

type MockReviewRepository struct {
	mock.Mock
}

func (m *MockReviewRepository) Create(ctx context.Context, r *review.Review) error {
	return m.Called(ctx, r).Error(0)
}

func (m *MockReviewRepository) Exists(ctx context.Context, productID, userID, orderID string) (bool, error) {
	args := m.Called(ctx, productID, userID, orderID)
	return args.Bool(0), args.Error(1)
}

func (m *MockReviewRepository) ListByProduct(ctx context.Context, productID string) ([]review.Review, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).([]review.Review), args.Error(1)
}

const orderID = "20250517abcdef0123"

func orderWithStatus(status order.OrderStatus) *order.Order {
	return &order.Order{
		ID:     orderID,
		UserID: "u1",
		Status: status,
		LineItems: []order.LineItem{
			{ProductID: "A", Quantity: 1, UnitPrice: 500},
			{ProductID: "C", Quantity: 2, UnitPrice: 1000},
		},
	}
}

func validCommand() review.SubmitCommand {
	return review.SubmitCommand{
		UserID:    "u1",
		ProductID: "A",
		OrderID:   orderID,
		Rating:    5,
		Message:   "  Bright and sturdy. ",
	}
}

func newService(t *testing.T, orders review.OrderLookup, repo review.Repository, now time.Time) review.Service {
	t.Helper()
	svc, err := review.NewService(review.ServiceDeps{
		Reviews: repo,
		Orders:  orders,
		Clock:   func() time.Time { return now },
	})
	require.NoError(t, err)
	return svc
}

func TestService_Submit_Delivered(t *testing.T) {
	orders := new(MockOrderLookup)
	orders.On("GetOrder", mock.Anything, orderID).Return(orderWithStatus(order.StatusDelivered), nil)
	now := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)
	svc := newService(t, orders, review.NewMemoryRepository(), now)

	created, err := svc.Submit(context.Background(), validCommand())

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "Bright and sturdy.", created.Message)
	assert.Equal(t, 5, created.Rating)
	assert.Equal(t, now, created.CreatedAt)

	_, err = svc.Submit(context.Background(), validCommand())
	assert.ErrorIs(t, err, review.ErrDuplicateReview)

	// A different product from the same delivered order is a separate review.
	cmd := validCommand()
	cmd.ProductID = "C"
	_, err = svc.Submit(context.Background(), cmd)
	assert.NoError(t, err)
}

func TestService_Submit_Gate(t *testing.T) {
	tests := []struct {
		name   string
		order  *order.Order
		err    error
		mutate func(cmd *review.SubmitCommand)
	}{
		{name: "shipped_order", order: orderWithStatus(order.StatusShipped)},
		{name: "placed_order", order: orderWithStatus(order.StatusPlaced)},
		{name: "cancelled_order", order: orderWithStatus(order.StatusCancelled)},
		{name: "unknown_order", err: order.ErrOrderNotFound},
		{
			name:   "someone_elses_order",
			order:  orderWithStatus(order.StatusDelivered),
			mutate: func(cmd *review.SubmitCommand) { cmd.UserID = "u2" },
		},
		{
			name:   "product_not_in_order",
			order:  orderWithStatus(order.StatusDelivered),
			mutate: func(cmd *review.SubmitCommand) { cmd.ProductID = "B" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := new(MockOrderLookup)
			if tt.err != nil {
				orders.On("GetOrder", mock.Anything, orderID).Return(nil, tt.err).Once()
			} else {
				orders.On("GetOrder", mock.Anything, orderID).Return(tt.order, nil).Once()
			}
			repo := review.NewMemoryRepository()
			svc := newService(t, orders, repo, time.Now())

			cmd := validCommand()
			if tt.mutate != nil {
				tt.mutate(&cmd)
			}
			_, err := svc.Submit(context.Background(), cmd)

			assert.ErrorIs(t, err, review.ErrNotAuthorized)
			stored, err := repo.ListByProduct(context.Background(), cmd.ProductID)
			require.NoError(t, err)
			assert.Empty(t, stored)
			orders.AssertExpectations(t)
		})
	}
}

func TestService_Submit_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cmd *review.SubmitCommand)
	}{
		{"rating_too_low", func(cmd *review.SubmitCommand) { cmd.Rating = 0 }},
		{"rating_too_high", func(cmd *review.SubmitCommand) { cmd.Rating = 6 }},
		{"blank_message", func(cmd *review.SubmitCommand) { cmd.Message = "   " }},
		{"missing_order", func(cmd *review.SubmitCommand) { cmd.OrderID = "" }},
		{"missing_product", func(cmd *review.SubmitCommand) { cmd.ProductID = "" }},
		{"missing_user", func(cmd *review.SubmitCommand) { cmd.UserID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := new(MockOrderLookup)
			svc := newService(t, orders, review.NewMemoryRepository(), time.Now())

			cmd := validCommand()
			tt.mutate(&cmd)
			_, err := svc.Submit(context.Background(), cmd)

			assert.ErrorIs(t, err, review.ErrValidation)
			orders.AssertNotCalled(t, "GetOrder", mock.Anything, mock.Anything)
		})
	}
}

func TestService_Submit_ConcurrentInsertIsDuplicate(t *testing.T) {
	orders := new(MockOrderLookup)
	orders.On("GetOrder", mock.Anything, orderID).Return(orderWithStatus(order.StatusDelivered), nil).Once()
	repo := new(MockReviewRepository)
	repo.On("Exists", mock.Anything, "A", "u1", orderID).Return(false, nil).Once()
	repo.On("Create", mock.Anything, mock.Anything).Return(review.ErrDuplicateReview).Once()
	svc := newService(t, orders, repo, time.Now())

	_, err := svc.Submit(context.Background(), validCommand())

	assert.ErrorIs(t, err, review.ErrDuplicateReview)
	repo.AssertExpectations(t)
}

func TestService_Submit_LookupFailure(t *testing.T) {
	orders := new(MockOrderLookup)
	lookupErr := errors.New("connection reset")
	orders.On("GetOrder", mock.Anything, orderID).Return(nil, lookupErr).Once()
	svc := newService(t, orders, review.NewMemoryRepository(), time.Now())

	_, err := svc.Submit(context.Background(), validCommand())

	assert.ErrorIs(t, err, lookupErr)
	assert.NotErrorIs(t, err, review.ErrNotAuthorized)
}

func TestService_ListByProduct(t *testing.T) {
	orders := new(MockOrderLookup)
	repo := review.NewMemoryRepository()
	svc := newService(t, orders, repo, time.Now())
	base := time.Date(2025, 5, 20, 12, 0, 0, 0, time.UTC)

	for i, oid := range []string{"o1", "o2"} {
		require.NoError(t, repo.Create(context.Background(), &review.Review{
			ID:        uuid.Must(uuid.NewV4()),
			ProductID: "A",
			UserID:    "u1",
			OrderID:   oid,
			Rating:    4,
			Message:   "ok",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	reviews, err := svc.ListByProduct(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, reviews, 2)
	assert.Equal(t, "o2", reviews[0].OrderID)

	empty, err := svc.ListByProduct(context.Background(), "Z")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = svc.ListByProduct(context.Background(), " ")
	assert.ErrorIs(t, err, review.ErrValidation)
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := review.NewService(review.ServiceDeps{Orders: new(MockOrderLookup)})
	assert.Error(t, err)
	_, err = review.NewService(review.ServiceDeps{Reviews: review.NewMemoryRepository()})
	assert.Error(t, err)
}
