package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

const defaultMaxAttempts = 5

// Ledger owns every mutation of product stock/sold counters.
type Ledger interface {
	// Reserve decrements stock for all items or for none of them.
	Reserve(ctx context.Context, items []Line) (Reservation, error)
	// Commit attaches the order to a held reservation and makes it final.
	Commit(ctx context.Context, reservationID, orderRef string) (Reservation, error)
	// Release gives the reserved quantities back. Releasing twice is a no-op.
	Release(ctx context.Context, reservationID, reason string) (Reservation, error)
	Stock(ctx context.Context, productID string) (StockRecord, error)
}

type LedgerDeps struct {
	Repository  Repository
	MaxAttempts int
	Clock       func() time.Time
	IDGenerator func() string
}

type ledger struct {
	repo        Repository
	maxAttempts int
	clock       func() time.Time
	newID       func() string
}

func NewLedger(deps LedgerDeps) (Ledger, error) {
	if deps.Repository == nil {
		return nil, errors.New("inventory ledger: repository is required")
	}

	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &ledger{
		repo:        deps.Repository,
		maxAttempts: maxAttempts,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (l *ledger) Reserve(ctx context.Context, items []Line) (Reservation, error) {
	lines, err := normaliseLines(items)
	if err != nil {
		return Reservation{}, err
	}

	productIDs := make([]string, len(lines))
	for i, line := range lines {
		productIDs[i] = line.ProductID
	}

	reservationID := l.newID()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		records, err := l.repo.GetStocks(ctx, productIDs)
		if err != nil {
			return Reservation{}, fmt.Errorf("ledger: failed to read stock: %w", err)
		}

		// Check every line before building any write.
		for _, line := range lines {
			rec := records[line.ProductID]
			if rec.Stock < line.Quantity {
				log.Info().
					Str("product_id", line.ProductID).
					Int("requested", line.Quantity).
					Int("available", rec.Stock).
					Msg("ledger: insufficient stock, reservation rejected")
				return Reservation{}, &StockError{
					ProductID: line.ProductID,
					Requested: line.Quantity,
					Available: rec.Stock,
					Err:       ErrInsufficientStock,
				}
			}
		}

		changes := make([]StockChange, 0, len(lines))
		resLines := make([]ReservationLine, 0, len(lines))
		for _, line := range lines {
			rec := records[line.ProductID]
			changes = append(changes, StockChange{
				ProductID:       line.ProductID,
				ExpectedVersion: rec.Version,
				StockDelta:      -line.Quantity,
				SoldDelta:       line.Quantity,
			})
			resLines = append(resLines, ReservationLine{
				ProductID:  line.ProductID,
				Quantity:   line.Quantity,
				PriorStock: rec.Stock,
				PriorSold:  rec.Sold,
			})
		}

		now := l.clock()
		reservation := Reservation{
			ID:        reservationID,
			Status:    ReservationHeld,
			Lines:     resLines,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err = l.repo.InsertReservation(ctx, reservation, changes)
		if errors.Is(err, ErrVersionConflict) {
			log.Debug().Str("reservation_id", reservationID).Int("attempt", attempt).Msg("ledger: stock changed concurrently, retrying reservation")
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("ledger: failed to store reservation: %w", err)
		}

		log.Info().Str("reservation_id", reservationID).Int("lines", len(resLines)).Msg("ledger: stock reserved")
		return reservation, nil
	}

	log.Warn().Str("reservation_id", reservationID).Int("attempts", l.maxAttempts).Msg("ledger: giving up on reservation after repeated conflicts")
	return Reservation{}, ErrConcurrentUpdate
}

func (l *ledger) Commit(ctx context.Context, reservationID, orderRef string) (Reservation, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return Reservation{}, ErrReservationNotFound
	}

	res, err := l.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return Reservation{}, fmt.Errorf("ledger: failed to load reservation %s: %w", reservationID, err)
	}
	if res.Status != ReservationHeld {
		return Reservation{}, fmt.Errorf("ledger: cannot commit %s reservation %s: %w", res.Status, reservationID, ErrInvalidReservationState)
	}

	now := l.clock()
	err = l.repo.TransitionReservation(ctx, Transition{
		ReservationID: reservationID,
		From:          ReservationHeld,
		To:            ReservationCommitted,
		OrderRef:      orderRef,
		At:            now,
	})
	if err != nil {
		if errors.Is(err, ErrReservationStateChanged) {
			return Reservation{}, fmt.Errorf("ledger: reservation %s changed during commit: %w", reservationID, ErrInvalidReservationState)
		}
		return Reservation{}, fmt.Errorf("ledger: failed to commit reservation %s: %w", reservationID, err)
	}

	res.Status = ReservationCommitted
	res.OrderRef = orderRef
	res.UpdatedAt = now
	log.Info().Str("reservation_id", reservationID).Str("order_id", orderRef).Msg("ledger: reservation committed")
	return res, nil
}

func (l *ledger) Release(ctx context.Context, reservationID, reason string) (Reservation, error) {
	reservationID = strings.TrimSpace(reservationID)
	if reservationID == "" {
		return Reservation{}, ErrReservationNotFound
	}

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		res, err := l.repo.GetReservation(ctx, reservationID)
		if err != nil {
			return Reservation{}, fmt.Errorf("ledger: failed to load reservation %s: %w", reservationID, err)
		}
		if res.Status == ReservationReleased {
			return res, nil
		}

		productIDs := make([]string, len(res.Lines))
		for i, line := range res.Lines {
			productIDs[i] = line.ProductID
		}
		records, err := l.repo.GetStocks(ctx, productIDs)
		if err != nil {
			return Reservation{}, fmt.Errorf("ledger: failed to read stock for release: %w", err)
		}

		changes := make([]StockChange, 0, len(res.Lines))
		for _, line := range res.Lines {
			rec := records[line.ProductID]
			// sold is never pushed below zero
			soldDelta := -line.Quantity
			if rec.Sold+soldDelta < 0 {
				soldDelta = -rec.Sold
			}
			changes = append(changes, StockChange{
				ProductID:       line.ProductID,
				ExpectedVersion: rec.Version,
				StockDelta:      line.Quantity,
				SoldDelta:       soldDelta,
			})
		}

		now := l.clock()
		err = l.repo.TransitionReservation(ctx, Transition{
			ReservationID: reservationID,
			From:          res.Status,
			To:            ReservationReleased,
			Reason:        reason,
			Changes:       changes,
			At:            now,
		})
		if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrReservationStateChanged) {
			log.Debug().Str("reservation_id", reservationID).Int("attempt", attempt).Msg("ledger: concurrent change during release, retrying")
			continue
		}
		if err != nil {
			return Reservation{}, fmt.Errorf("ledger: failed to release reservation %s: %w", reservationID, err)
		}

		res.Status = ReservationReleased
		res.Reason = reason
		res.UpdatedAt = now
		log.Info().Str("reservation_id", reservationID).Str("reason", reason).Msg("ledger: reservation released")
		return res, nil
	}

	return Reservation{}, ErrConcurrentUpdate
}

func (l *ledger) Stock(ctx context.Context, productID string) (StockRecord, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockRecord{}, &StockError{ProductID: productID, Err: ErrProductNotFound}
	}
	return l.repo.GetStock(ctx, productID)
}

// normaliseLines merges duplicate products and orders lines by product id.
func normaliseLines(items []Line) ([]Line, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	totals := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, &StockError{ProductID: item.ProductID, Err: ErrProductNotFound}
		}
		if item.Quantity < 1 {
			return nil, &StockError{ProductID: id, Requested: item.Quantity, Err: ErrInvalidQuantity}
		}
		totals[id] += item.Quantity
	}

	lines := make([]Line, 0, len(totals))
	for id, qty := range totals {
		lines = append(lines, Line{ProductID: id, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		return lines[i].ProductID < lines[j].ProductID
	})
	return lines, nil
}
