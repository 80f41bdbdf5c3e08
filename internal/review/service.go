package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/order"
)

type Service interface {
	Submit(ctx context.Context, cmd SubmitCommand) (*Review, error)
	ListByProduct(ctx context.Context, productID string) ([]Review, error)
}

// OrderLookup is the read side of the order service the gate consults.
type OrderLookup interface {
	GetOrder(ctx context.Context, orderID string) (*order.Order, error)
}

type ServiceDeps struct {
	Reviews Repository
	Orders  OrderLookup
	Clock   func() time.Time
	NewID   func() (uuid.UUID, error)
}

type service struct {
	reviews Repository
	orders  OrderLookup
	clock   func() time.Time
	newID   func() (uuid.UUID, error)
}

func NewService(deps ServiceDeps) (Service, error) {
	if deps.Reviews == nil {
		return nil, errors.New("review service: repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("review service: order lookup is required")
	}

	s := &service{
		reviews: deps.Reviews,
		orders:  deps.Orders,
		clock:   deps.Clock,
		newID:   deps.NewID,
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.newID == nil {
		s.newID = uuid.NewV4
	}
	return s, nil
}

func validateSubmit(cmd SubmitCommand) error {
	var problems []string
	if strings.TrimSpace(cmd.UserID) == "" {
		problems = append(problems, "user id is required")
	}
	if strings.TrimSpace(cmd.ProductID) == "" {
		problems = append(problems, "product id is required")
	}
	if strings.TrimSpace(cmd.OrderID) == "" {
		problems = append(problems, "order id is required")
	}
	if cmd.Rating < MinRating || cmd.Rating > MaxRating {
		problems = append(problems, fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating))
	}
	if strings.TrimSpace(cmd.Message) == "" {
		problems = append(problems, "message is required")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func (s *service) Submit(ctx context.Context, cmd SubmitCommand) (*Review, error) {
	if err := validateSubmit(cmd); err != nil {
		return nil, err
	}

	o, err := s.orders.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn().Str("order_id", cmd.OrderID).Str("user_id", cmd.UserID).Msg("service: review for unknown order rejected")
			return nil, ErrNotAuthorized
		}
		return nil, fmt.Errorf("service: failed to load order for review: %w", err)
	}
	if o.UserID != cmd.UserID || o.Status != order.StatusDelivered || !o.HasProduct(cmd.ProductID) {
		log.Warn().
			Str("order_id", cmd.OrderID).
			Str("user_id", cmd.UserID).
			Str("product_id", cmd.ProductID).
			Stringer("order_status", o.Status).
			Msg("service: review gate rejected submission")
		return nil, ErrNotAuthorized
	}

	exists, err := s.reviews.Exists(ctx, cmd.ProductID, cmd.UserID, cmd.OrderID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to check existing review: %w", err)
	}
	if exists {
		return nil, ErrDuplicateReview
	}

	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate review id: %w", err)
	}
	review := &Review{
		ID:        id,
		ProductID: cmd.ProductID,
		UserID:    cmd.UserID,
		OrderID:   cmd.OrderID,
		Rating:    cmd.Rating,
		Message:   strings.TrimSpace(cmd.Message),
		CreatedAt: s.clock().UTC(),
	}

	// The unique index settles concurrent submissions that both passed Exists.
	if err := s.reviews.Create(ctx, review); err != nil {
		if errors.Is(err, ErrDuplicateReview) {
			return nil, ErrDuplicateReview
		}
		log.Error().Err(err).Str("order_id", cmd.OrderID).Msg("service: failed to save review in repository")
		return nil, fmt.Errorf("service: failed to save review: %w", err)
	}

	log.Info().Str("review_id", review.ID.String()).Str("product_id", review.ProductID).Int("rating", review.Rating).Msg("service: review created")
	return review, nil
}

func (s *service) ListByProduct(ctx context.Context, productID string) ([]Review, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrValidation)
	}
	reviews, err := s.reviews.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to list reviews: %w", err)
	}
	return reviews, nil
}
