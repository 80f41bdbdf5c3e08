package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/review"
)

type SubmitReviewRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	OrderID   string `json:"order_id" validate:"required,len=18"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Message   string `json:"message" validate:"required,max=2000"`
}

type ReviewHandler struct {
	service  review.Service
	validate *validator.Validate
}

func NewReviewHandler(service review.Service) *ReviewHandler {
	return &ReviewHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *ReviewHandler) RegisterRoutes(router chi.Router) {
	router.With(RequireUser).Post("/reviews", h.handleSubmitReview)
	router.Get("/products/{productID}/reviews", h.handleListProductReviews)
}

func (h *ReviewHandler) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var requestPayload SubmitReviewRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	created, err := h.service.Submit(r.Context(), review.SubmitCommand{
		UserID:    userIDFromContext(r.Context()),
		ProductID: requestPayload.ProductID,
		OrderID:   requestPayload.OrderID,
		Rating:    requestPayload.Rating,
		Message:   requestPayload.Message,
	})
	if err != nil {
		respondWithServiceError(w, err, "submit review")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *ReviewHandler) handleListProductReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.service.ListByProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondWithServiceError(w, err, "list reviews")
		return
	}

	respondWithJSON(w, http.StatusOK, reviews)
}
