package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/inventory"
)

type AddCartItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	// Zero means one.
	Quantity int `json:"quantity" validate:"gte=0,lte=1000"`
}

// StockReader is the read side of the inventory ledger.
type StockReader interface {
	Stock(ctx context.Context, productID string) (inventory.StockRecord, error)
}

type CatalogHandler struct {
	carts    catalog.CartService
	stock    StockReader
	validate *validator.Validate
}

func NewCatalogHandler(carts catalog.CartService, stock StockReader) *CatalogHandler {
	return &CatalogHandler{
		carts:    carts,
		stock:    stock,
		validate: newValidator(),
	}
}

func (h *CatalogHandler) RegisterRoutes(router chi.Router) {
	router.Get("/products/{productID}/stock", h.handleGetStock)
	router.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Get("/cart", h.handleGetCart)
		r.Post("/cart/items", h.handleAddCartItem)
		r.Delete("/cart/items/{productID}", h.handleRemoveCartItem)
	})
}

func (h *CatalogHandler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	record, err := h.stock.Stock(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondWithServiceError(w, err, "get stock")
		return
	}

	respondWithJSON(w, http.StatusOK, record)
}

func (h *CatalogHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.GetCart(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "get cart")
		return
	}

	respondWithJSON(w, http.StatusOK, cart)
}

func (h *CatalogHandler) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var requestPayload AddCartItemRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	cart, err := h.carts.AddItem(r.Context(), userIDFromContext(r.Context()), requestPayload.ProductID, requestPayload.Quantity)
	if err != nil {
		respondWithServiceError(w, err, "add cart item")
		return
	}

	respondWithJSON(w, http.StatusOK, cart)
}

func (h *CatalogHandler) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	cart, err := h.carts.RemoveItem(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "productID"))
	if err != nil {
		respondWithServiceError(w, err, "remove cart item")
		return
	}

	respondWithJSON(w, http.StatusOK, cart)
}
