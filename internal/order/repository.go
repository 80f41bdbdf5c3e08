package order

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	// Create returns ErrDuplicateOrderID when the id is already taken and
	// ErrTransactionAlreadyUsed when the transaction id belongs to another order.
	Create(ctx context.Context, order *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByUserID(ctx context.Context, userID string) ([]Order, error)
	// UpdateStatus writes only when the stored status still equals u.From.
	UpdateStatus(ctx context.Context, u StatusUpdate) error
	// AddTracking returns ErrTerminalState when the order is delivered or cancelled at write time.
	AddTracking(ctx context.Context, orderID string, entry TrackingEntry) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const transactionIDConstraint = "orders_transaction_id_key"

func terminalStatuses() []string {
	var out []string
	for status := range allowedTransitions {
		if status.Terminal() {
			out = append(out, string(status))
		}
	}
	sort.Strings(out)
	return out
}

const orderColumns = `order_id, user_id, reservation_id, line_items, subtotal, total_price,
		       COALESCE(coupon_code, ''), COALESCE(transaction_id, ''), payment_method, payment_status,
		       order_status, recipient, shipping_address, created_at, updated_at`

func (r *postgresRepository) Create(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO orders (order_id, user_id, reservation_id, line_items, subtotal, total_price, coupon_code,
		                    transaction_id, payment_method, payment_status, order_status, recipient,
		                    shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, $13, $14, $15)
	`

	_, err := r.db.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.ReservationID,
		order.LineItems,
		order.Subtotal,
		order.TotalPrice,
		order.CouponCode,
		order.TransactionID,
		string(order.PaymentMethod),
		string(order.PaymentStatus),
		string(order.Status),
		order.Recipient,
		order.ShippingAddress,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			if pgErr.ConstraintName == transactionIDConstraint {
				log.Warn().Str("order_id", order.ID).Str("transaction_id", order.TransactionID).Msg("repository: transaction id already used")
				return ErrTransactionAlreadyUsed
			}
			log.Warn().Str("order_id", order.ID).Msg("repository: order id collision")
			return ErrDuplicateOrderID
		}
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}
	return nil
}

func scanOrder(row pgx.Row, o *Order) error {
	var paymentMethod, paymentStatus, status string
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.ReservationID,
		&o.LineItems,
		&o.Subtotal,
		&o.TotalPrice,
		&o.CouponCode,
		&o.TransactionID,
		&paymentMethod,
		&paymentStatus,
		&status,
		&o.Recipient,
		&o.ShippingAddress,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	o.PaymentMethod = PaymentMethod(paymentMethod)
	o.PaymentStatus = PaymentStatus(paymentStatus)
	o.Status = OrderStatus(status)
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	var order Order
	if err := scanOrder(r.db.QueryRow(ctx, query, id), &order); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	tracking, err := r.trackingFor(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	order.Tracking = tracking[id]
	if order.Tracking == nil {
		order.Tracking = make([]TrackingEntry, 0)
	}
	return &order, nil
}

func (r *postgresRepository) GetByUserID(ctx context.Context, userID string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	var ids []string
	for rows.Next() {
		var order Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("repository: failed scan order for user id %s: %w", userID, err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed iterating orders for user id %s: %w", userID, err)
	}

	if len(ids) == 0 {
		return orders, nil
	}

	tracking, err := r.trackingFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Tracking = tracking[orders[i].ID]
		if orders[i].Tracking == nil {
			orders[i].Tracking = make([]TrackingEntry, 0)
		}
	}
	return orders, nil
}

func (r *postgresRepository) trackingFor(ctx context.Context, orderIDs []string) (map[string][]TrackingEntry, error) {
	query := `
		SELECT order_id, location, created_at
		FROM order_tracking
		WHERE order_id = ANY($1)
		ORDER BY created_at, id
	`

	rows, err := r.db.Query(ctx, query, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order tracking: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]TrackingEntry, len(orderIDs))
	for rows.Next() {
		var orderID string
		var entry TrackingEntry
		if err := rows.Scan(&orderID, &entry.Location, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan order tracking: %w", err)
		}
		result[orderID] = append(result[orderID], entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order tracking: %w", err)
	}
	return result, nil
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	query := `
		UPDATE orders
		SET order_status = $1,
		    payment_status = COALESCE(NULLIF($2, ''), payment_status),
		    updated_at = $3
		WHERE order_id = $4 AND order_status = $5
	`

	cmdTag, err := r.db.Exec(ctx, query, string(u.To), string(u.PaymentStatus), u.At, u.OrderID, string(u.From))
	if err != nil {
		log.Error().Err(err).Str("order_id", u.OrderID).Stringer("new_status", u.To).Msg("repository: failed to update order status")
		return fmt.Errorf("repository: failed to update order status %s: %w", u.OrderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, u.OrderID).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order %s: %w", u.OrderID, err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		log.Warn().Str("order_id", u.OrderID).Stringer("expected_status", u.From).Msg("repository: order status changed concurrently")
		return ErrStatusConflict
	}
	return nil
}

func (r *postgresRepository) AddTracking(ctx context.Context, orderID string, entry TrackingEntry) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		// The guarded update locks the row, so a concurrent status change cannot finish in between.
		cmdTag, err := tx.Exec(ctx,
			`UPDATE orders SET updated_at = $1 WHERE order_id = $2 AND order_status <> ALL($3)`,
			entry.CreatedAt, orderID, terminalStatuses())
		if err != nil {
			return fmt.Errorf("repository: failed to touch order %s: %w", orderID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
				return fmt.Errorf("repository: failed to check order %s: %w", orderID, err)
			}
			if !exists {
				return ErrOrderNotFound
			}
			return ErrTerminalState
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO order_tracking (order_id, location, created_at)
			VALUES ($1, $2, $3)
		`, orderID, entry.Location, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("repository: failed to insert tracking for order %s: %w", orderID, err)
		}
		return nil
	})
}

func (r *postgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("Panic recovered during order transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback order transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}
