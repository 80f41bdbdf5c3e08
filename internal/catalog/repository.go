package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/pricing"
)

type CartRepository interface {
	// GetCart returns ErrCartNotFound when the user has no items.
	GetCart(ctx context.Context, userID string) (Cart, error)
	// AddItem inserts the product or increases the quantity of an existing line.
	AddItem(ctx context.Context, userID, productID string, quantity int) error
	RemoveItem(ctx context.Context, userID, productID string) error
	Clear(ctx context.Context, userID string) error
}

type ProductRepository interface {
	// GetProducts returns ErrProductNotFound wrapped with the first missing id.
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
}

type postgresCartRepository struct {
	db *pgxpool.Pool
}

func NewCartRepository(db *pgxpool.Pool) CartRepository {
	return &postgresCartRepository{db: db}
}

func (r *postgresCartRepository) GetCart(ctx context.Context, userID string) (Cart, error) {
	query := `
		SELECT product_id, quantity, updated_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return Cart{}, fmt.Errorf("repository: failed to query cart for user %s: %w", userID, err)
	}
	defer rows.Close()

	cart := Cart{UserID: userID, Items: make([]CartItem, 0)}
	for rows.Next() {
		var item CartItem
		var updated time.Time
		if err := rows.Scan(&item.ProductID, &item.Quantity, &updated); err != nil {
			return Cart{}, fmt.Errorf("repository: failed to scan cart item for user %s: %w", userID, err)
		}
		if updated.After(cart.UpdatedAt) {
			cart.UpdatedAt = updated
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Cart{}, fmt.Errorf("repository: error iterating cart items for user %s: %w", userID, err)
	}

	if len(cart.Items) == 0 {
		return Cart{}, ErrCartNotFound
	}
	return cart, nil
}

func (r *postgresCartRepository) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	query := `
		INSERT INTO cart_items (user_id, product_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
	`

	_, err := r.db.Exec(ctx, query, userID, productID, quantity)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: %s", ErrProductNotFound, productID)
		}
		return fmt.Errorf("repository: failed to add product %s to cart of user %s: %w", productID, userID, err)
	}
	return nil
}

func (r *postgresCartRepository) RemoveItem(ctx context.Context, userID, productID string) error {
	cmdTag, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`, userID, productID)
	if err != nil {
		return fmt.Errorf("repository: failed to remove product %s from cart of user %s: %w", productID, userID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *postgresCartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("repository: failed to clear cart of user %s: %w", userID, err)
	}
	return nil
}

type postgresProductRepository struct {
	db *pgxpool.Pool
}

func NewProductRepository(db *pgxpool.Pool) ProductRepository {
	return &postgresProductRepository{db: db}
}

func (r *postgresProductRepository) GetProducts(ctx context.Context, ids []string) (map[string]Product, error) {
	query := `
		SELECT id, name, mrp, sale_price
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	products := make(map[string]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.MRP, &p.SalePrice); err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating products: %w", err)
	}

	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
	}
	return products, nil
}

type postgresCouponRepository struct {
	db *pgxpool.Pool
}

// NewCouponRepository returns a pricing.CouponProvider backed by the coupons table.
func NewCouponRepository(db *pgxpool.Pool) pricing.CouponProvider {
	return &postgresCouponRepository{db: db}
}

func (r *postgresCouponRepository) GetCoupon(ctx context.Context, code string) (pricing.Coupon, error) {
	query := `
		SELECT code, discount_percent, is_active
		FROM coupons
		WHERE code = $1
	`

	var c pricing.Coupon
	err := r.db.QueryRow(ctx, query, code).Scan(&c.Code, &c.DiscountPercent, &c.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.Coupon{}, pricing.ErrCouponNotFound
		}
		return pricing.Coupon{}, fmt.Errorf("repository: failed to select coupon %s: %w", code, err)
	}
	return c, nil
}
