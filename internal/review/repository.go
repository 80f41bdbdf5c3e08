package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	// Create returns ErrDuplicateReview when the (product, user, order) triple is taken.
	Create(ctx context.Context, review *Review) error
	Exists(ctx context.Context, productID, userID, orderID string) (bool, error)
	ListByProduct(ctx context.Context, productID string) ([]Review, error)
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, review *Review) error {
	query := `
		INSERT INTO reviews (id, product_id, user_id, order_id, rating, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Exec(ctx, query,
		review.ID.String(),
		review.ProductID,
		review.UserID,
		review.OrderID,
		review.Rating,
		review.Message,
		review.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			log.Warn().Str("product_id", review.ProductID).Str("order_id", review.OrderID).Msg("repository: duplicate review insert")
			return ErrDuplicateReview
		}
		return fmt.Errorf("repository: failed to insert review: %w", err)
	}
	return nil
}

func (r *postgresRepository) Exists(ctx context.Context, productID, userID, orderID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM reviews WHERE product_id = $1 AND user_id = $2 AND order_id = $3)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, productID, userID, orderID).Scan(&exists); err != nil {
		return false, fmt.Errorf("repository: failed to check review for order %s: %w", orderID, err)
	}
	return exists, nil
}

func (r *postgresRepository) ListByProduct(ctx context.Context, productID string) ([]Review, error) {
	query := `
		SELECT id::text, product_id, user_id, order_id, rating, message, created_at
		FROM reviews
		WHERE product_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query reviews for product %s: %w", productID, err)
	}
	defer rows.Close()

	reviews := make([]Review, 0)
	for rows.Next() {
		var (
			rev Review
			id  string
		)
		if err := rows.Scan(&id, &rev.ProductID, &rev.UserID, &rev.OrderID, &rev.Rating, &rev.Message, &rev.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan review: %w", err)
		}
		if rev.ID, err = uuid.FromString(id); err != nil {
			return nil, fmt.Errorf("repository: malformed review id %q: %w", id, err)
		}
		reviews = append(reviews, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating reviews: %w", err)
	}
	return reviews, nil
}
