package inventory

import (
	"errors"
	"fmt"
	"time"
)

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "HELD"
	ReservationCommitted ReservationStatus = "COMMITTED"
	ReservationReleased  ReservationStatus = "RELEASED"
)

func (s ReservationStatus) String() string {
	return string(s)
}

var (
	ErrProductNotFound         = errors.New("inventory: product not found")
	ErrInsufficientStock       = errors.New("inventory: insufficient stock")
	ErrInvalidQuantity         = errors.New("inventory: quantity must be at least 1")
	ErrNoItems                 = errors.New("inventory: no items to reserve")
	ErrConcurrentUpdate        = errors.New("inventory: too many concurrent stock updates, retry later")
	ErrReservationNotFound     = errors.New("inventory: reservation not found")
	ErrInvalidReservationState = errors.New("inventory: reservation state does not allow this operation")

	// ErrVersionConflict is returned by repositories when a stock record changed
	// since it was read. The ledger retries on it; callers never see it.
	ErrVersionConflict = errors.New("inventory: stock version conflict")
	// ErrReservationStateChanged is returned by repositories when the reservation
	// status no longer matches the expected one.
	ErrReservationStateChanged = errors.New("inventory: reservation status changed concurrently")
)

// StockError reports which product made a reservation fail.
type StockError struct {
	ProductID string
	Requested int
	Available int
	Err       error
}

func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("%s: product %s requested %d, available %d", e.Err, e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("%s: product %s", e.Err, e.ProductID)
}

func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StockRecord is the versioned stock counter of one product.
type StockRecord struct {
	ProductID string    `json:"product_id"`
	Stock     int       `json:"stock"`
	Sold      int       `json:"sold"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Line is a product/quantity pair to reserve.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// ReservationLine keeps the counters observed right before the reservation was applied.
type ReservationLine struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	PriorStock int    `json:"prior_stock"`
	PriorSold  int    `json:"prior_sold"`
}

type Reservation struct {
	ID        string            `json:"id"`
	OrderRef  string            `json:"order_ref,omitempty"`
	Status    ReservationStatus `json:"status"`
	Lines     []ReservationLine `json:"lines"`
	Reason    string            `json:"reason,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// StockChange is a conditional delta: it applies only while the record is still at ExpectedVersion.
type StockChange struct {
	ProductID       string
	ExpectedVersion int64
	StockDelta      int
	SoldDelta       int
}

// Transition moves a reservation between states, applying Changes in the same unit of work.
type Transition struct {
	ReservationID string
	From          ReservationStatus
	To            ReservationStatus
	OrderRef      string
	Reason        string
	Changes       []StockChange
	At            time.Time
}

func cloneLines(lines []ReservationLine) []ReservationLine {
	if lines == nil {
		return nil
	}
	out := make([]ReservationLine, len(lines))
	copy(out, lines)
	return out
}
