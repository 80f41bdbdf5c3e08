package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

type Repository interface {
	GetStock(ctx context.Context, productID string) (StockRecord, error)
	// GetStocks returns a record per requested id or a *StockError wrapping ErrProductNotFound.
	GetStocks(ctx context.Context, productIDs []string) (map[string]StockRecord, error)
	// InsertReservation applies changes and stores the reservation atomically.
	InsertReservation(ctx context.Context, reservation Reservation, changes []StockChange) error
	GetReservation(ctx context.Context, id string) (Reservation, error)
	// TransitionReservation updates the status guarded by t.From and applies t.Changes atomically.
	TransitionReservation(ctx context.Context, t Transition) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetStock(ctx context.Context, productID string) (StockRecord, error) {
	query := `
		SELECT id, stock, sold, version, updated_at
		FROM products
		WHERE id = $1
	`

	var rec StockRecord
	err := r.db.QueryRow(ctx, query, productID).Scan(&rec.ProductID, &rec.Stock, &rec.Sold, &rec.Version, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockRecord{}, &StockError{ProductID: productID, Err: ErrProductNotFound}
		}
		return StockRecord{}, fmt.Errorf("repository: failed to select stock for product %s: %w", productID, err)
	}
	return rec, nil
}

func (r *postgresRepository) GetStocks(ctx context.Context, productIDs []string) (map[string]StockRecord, error) {
	query := `
		SELECT id, stock, sold, version, updated_at
		FROM products
		WHERE id = ANY($1)
	`

	rows, err := r.db.Query(ctx, query, productIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query stocks: %w", err)
	}
	defer rows.Close()

	records := make(map[string]StockRecord, len(productIDs))
	for rows.Next() {
		var rec StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.Stock, &rec.Sold, &rec.Version, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan stock: %w", err)
		}
		records[rec.ProductID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating stocks: %w", err)
	}

	for _, id := range productIDs {
		if _, ok := records[id]; !ok {
			return nil, &StockError{ProductID: id, Err: ErrProductNotFound}
		}
	}
	return records, nil
}

func (r *postgresRepository) InsertReservation(ctx context.Context, reservation Reservation, changes []StockChange) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if err := applyChanges(ctx, tx, changes, reservation.UpdatedAt); err != nil {
			return err
		}

		query := `
			INSERT INTO inventory_reservations (id, order_ref, status, lines, reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err := tx.Exec(ctx, query,
			reservation.ID,
			reservation.OrderRef,
			string(reservation.Status),
			reservation.Lines,
			reservation.Reason,
			reservation.CreatedAt,
			reservation.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert reservation %s: %w", reservation.ID, err)
		}
		return nil
	})
}

func (r *postgresRepository) GetReservation(ctx context.Context, id string) (Reservation, error) {
	query := `
		SELECT id, order_ref, status, lines, reason, created_at, updated_at
		FROM inventory_reservations
		WHERE id = $1
	`

	var res Reservation
	var status string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&res.ID,
		&res.OrderRef,
		&status,
		&res.Lines,
		&res.Reason,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, fmt.Errorf("repository: failed to select reservation %s: %w", id, err)
	}
	res.Status = ReservationStatus(status)
	return res, nil
}

func (r *postgresRepository) TransitionReservation(ctx context.Context, t Transition) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE inventory_reservations
			SET status = $1,
			    order_ref = CASE WHEN $2 <> '' THEN $2 ELSE order_ref END,
			    reason = CASE WHEN $3 <> '' THEN $3 ELSE reason END,
			    updated_at = $4
			WHERE id = $5 AND status = $6
		`
		cmdTag, err := tx.Exec(ctx, query, string(t.To), t.OrderRef, t.Reason, t.At, t.ReservationID, string(t.From))
		if err != nil {
			return fmt.Errorf("repository: failed to update reservation %s: %w", t.ReservationID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_reservations WHERE id = $1)`, t.ReservationID).Scan(&exists); err != nil {
				return fmt.Errorf("repository: failed to check reservation %s: %w", t.ReservationID, err)
			}
			if !exists {
				return ErrReservationNotFound
			}
			return ErrReservationStateChanged
		}

		return applyChanges(ctx, tx, t.Changes, t.At)
	})
}

// applyChanges runs one conditional UPDATE per product; any miss aborts the transaction.
func applyChanges(ctx context.Context, tx pgx.Tx, changes []StockChange, at time.Time) error {
	query := `
		UPDATE products
		SET stock = stock + $2,
		    sold = sold + $3,
		    version = version + 1,
		    updated_at = $4
		WHERE id = $1
		  AND version = $5
		  AND stock + $2 >= 0
		  AND sold + $3 >= 0
	`
	for _, c := range changes {
		cmdTag, err := tx.Exec(ctx, query, c.ProductID, c.StockDelta, c.SoldDelta, at, c.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("repository: failed to update stock for product %s: %w", c.ProductID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrVersionConflict
		}
	}
	return nil
}

func (r *postgresRepository) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Msg("Panic recovered during inventory transaction, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback inventory transaction")
			}
		} else if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}
