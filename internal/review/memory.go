package review

import (
	"context"
	"sort"
	"sync"
)

type reviewKey struct {
	productID, userID, orderID string
}

// MemoryRepository keeps reviews in process memory with the same uniqueness rule as the reviews table.
type MemoryRepository struct {
	mu      sync.RWMutex
	reviews map[reviewKey]Review
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{reviews: make(map[reviewKey]Review)}
}

func (r *MemoryRepository) Create(_ context.Context, review *Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := reviewKey{review.ProductID, review.UserID, review.OrderID}
	if _, exists := r.reviews[key]; exists {
		return ErrDuplicateReview
	}
	r.reviews[key] = *review
	return nil
}

func (r *MemoryRepository) Exists(_ context.Context, productID, userID, orderID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.reviews[reviewKey{productID, userID, orderID}]
	return exists, nil
}

func (r *MemoryRepository) ListByProduct(_ context.Context, productID string) ([]Review, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reviews := make([]Review, 0)
	for key, rev := range r.reviews {
		if key.productID == productID {
			reviews = append(reviews, rev)
		}
	}
	sort.Slice(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
	return reviews, nil
}
