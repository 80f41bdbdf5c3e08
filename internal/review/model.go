package review

import (
	"errors"
	"time"

	"github.com/gofrs/uuid"
)

var (
	ErrValidation      = errors.New("invalid review")
	ErrNotAuthorized   = errors.New("review requires a delivered order containing the product")
	ErrDuplicateReview = errors.New("review for this product and order already exists")
)

const (
	MinRating = 1
	MaxRating = 5
)

// Review is immutable once stored.
type Review struct {
	ID        uuid.UUID `json:"id"`
	ProductID string    `json:"product_id"`
	UserID    string    `json:"user_id"`
	OrderID   string    `json:"order_id"`
	Rating    int       `json:"rating"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type SubmitCommand struct {
	UserID    string
	ProductID string
	OrderID   string
	Rating    int
	Message   string
}
