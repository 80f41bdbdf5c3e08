package order

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository is a Repository kept in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]Order)}
}

func copyOrder(o Order) Order {
	o.LineItems = append([]LineItem(nil), o.LineItems...)
	o.Tracking = append(make([]TrackingEntry, 0, len(o.Tracking)), o.Tracking...)
	return o
}

func (r *MemoryRepository) Create(_ context.Context, order *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return ErrDuplicateOrderID
	}
	if order.TransactionID != "" {
		for _, o := range r.orders {
			if o.TransactionID == order.TransactionID {
				return ErrTransactionAlreadyUsed
			}
		}
	}
	r.orders[order.ID] = copyOrder(*order)
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	out := copyOrder(o)
	return &out, nil
}

func (r *MemoryRepository) GetByUserID(_ context.Context, userID string) ([]Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orders := make([]Order, 0)
	for _, o := range r.orders {
		if o.UserID == userID {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, u StatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[u.OrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != u.From {
		return ErrStatusConflict
	}
	o.Status = u.To
	if u.PaymentStatus != "" {
		o.PaymentStatus = u.PaymentStatus
	}
	o.UpdatedAt = u.At
	r.orders[u.OrderID] = o
	return nil
}

func (r *MemoryRepository) AddTracking(_ context.Context, orderID string, entry TrackingEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status.Terminal() {
		return ErrTerminalState
	}
	o.Tracking = append(o.Tracking, entry)
	o.UpdatedAt = entry.CreatedAt
	r.orders[orderID] = o
	return nil
}
