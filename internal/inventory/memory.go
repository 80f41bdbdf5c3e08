package inventory

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps stock records and reservations in process memory.
// It follows the same version/CAS contract as the Postgres repository.
type MemoryRepository struct {
	mu           sync.Mutex
	stocks       map[string]StockRecord
	reservations map[string]Reservation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		stocks:       make(map[string]StockRecord),
		reservations: make(map[string]Reservation),
	}
}

// PutStock creates or overwrites the stock record of a product.
func (r *MemoryRepository) PutStock(productID string, stock, sold int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.stocks[productID]
	rec.ProductID = productID
	rec.Stock = stock
	rec.Sold = sold
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	r.stocks[productID] = rec
}

func (r *MemoryRepository) GetStock(_ context.Context, productID string) (StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.stocks[productID]
	if !ok {
		return StockRecord{}, &StockError{ProductID: productID, Err: ErrProductNotFound}
	}
	return rec, nil
}

func (r *MemoryRepository) GetStocks(_ context.Context, productIDs []string) (map[string]StockRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := make(map[string]StockRecord, len(productIDs))
	for _, id := range productIDs {
		rec, ok := r.stocks[id]
		if !ok {
			return nil, &StockError{ProductID: id, Err: ErrProductNotFound}
		}
		records[id] = rec
	}
	return records, nil
}

func (r *MemoryRepository) InsertReservation(_ context.Context, reservation Reservation, changes []StockChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.applyLocked(changes, reservation.UpdatedAt); err != nil {
		return err
	}
	reservation.Lines = cloneLines(reservation.Lines)
	r.reservations[reservation.ID] = reservation
	return nil
}

func (r *MemoryRepository) GetReservation(_ context.Context, id string) (Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	res.Lines = cloneLines(res.Lines)
	return res, nil
}

func (r *MemoryRepository) TransitionReservation(_ context.Context, t Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[t.ReservationID]
	if !ok {
		return ErrReservationNotFound
	}
	if res.Status != t.From {
		return ErrReservationStateChanged
	}
	if err := r.applyLocked(t.Changes, t.At); err != nil {
		return err
	}

	res.Status = t.To
	if t.OrderRef != "" {
		res.OrderRef = t.OrderRef
	}
	if t.Reason != "" {
		res.Reason = t.Reason
	}
	res.UpdatedAt = t.At
	r.reservations[res.ID] = res
	return nil
}

// applyLocked validates every change before writing any of them.
func (r *MemoryRepository) applyLocked(changes []StockChange, at time.Time) error {
	for _, c := range changes {
		rec, ok := r.stocks[c.ProductID]
		if !ok {
			return &StockError{ProductID: c.ProductID, Err: ErrProductNotFound}
		}
		if rec.Version != c.ExpectedVersion || rec.Stock+c.StockDelta < 0 || rec.Sold+c.SoldDelta < 0 {
			return ErrVersionConflict
		}
	}
	for _, c := range changes {
		rec := r.stocks[c.ProductID]
		rec.Stock += c.StockDelta
		rec.Sold += c.SoldDelta
		rec.Version++
		rec.UpdatedAt = at
		r.stocks[c.ProductID] = rec
	}
	return nil
}
