package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/orderid"
)

type ShippingAddressRequest struct {
	Street   string `json:"street" validate:"required,max=255"`
	City     string `json:"city" validate:"required,max=100"`
	District string `json:"district" validate:"required,max=100"`
	State    string `json:"state" validate:"required,max=100"`
	Country  string `json:"country" validate:"required,max=100"`
	Phone    string `json:"phone" validate:"required,min=5,max=32"`
}

type CheckoutRequest struct {
	Recipient       string                 `json:"recipient" validate:"required,email"`
	PaymentMethod   string                 `json:"payment_method" validate:"required,oneof=COD GATEWAY WALLET"`
	TransactionID   string                 `json:"transaction_id,omitempty" validate:"omitempty,max=255"`
	CouponCode      string                 `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address"`
}

type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=PLACED CONFIRMED SHIPPED DELIVERED CANCELLED"`
}

type AddTrackingRequest struct {
	Location string `json:"location" validate:"required,max=255"`
}

type OrderHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewOrderHandler(service order.Service) *OrderHandler {
	return &OrderHandler{
		service:  service,
		validate: newValidator(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/orders", h.handleCheckout)
		r.Get("/orders/{orderID}", h.handleGetOrder)
		r.Get("/users/me/orders", h.handleListMyOrders)
	})
	router.Patch("/orders/{orderID}/status", h.handleChangeStatus)
	router.Post("/orders/{orderID}/tracking", h.handleAddTracking)
}

func (h *OrderHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	addr := requestPayload.ShippingAddress
	created, err := h.service.Checkout(r.Context(), order.CheckoutCommand{
		UserID:        userIDFromContext(r.Context()),
		Recipient:     requestPayload.Recipient,
		PaymentMethod: order.PaymentMethod(requestPayload.PaymentMethod),
		TransactionID: requestPayload.TransactionID,
		CouponCode:    requestPayload.CouponCode,
		ShippingAddress: order.ShippingAddress{
			Street:   addr.Street,
			City:     addr.City,
			District: addr.District,
			State:    addr.State,
			Country:  addr.Country,
			Phone:    addr.Phone,
		},
	})
	if err != nil {
		respondWithServiceError(w, err, "create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

// orderIDParam writes 400 for ids that cannot have been generated by the service.
func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "orderID")
	if !orderid.Valid(id) {
		log.Warn().Str("order_id", id).Msg("Failed to parse order id from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid order id")
		return "", false
	}
	return id, true
}

func (h *OrderHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "get order")
		return
	}
	// Someone else's order is reported the same way as a missing one.
	if found.UserID != userIDFromContext(r.Context()) {
		respondWithError(w, http.StatusNotFound, order.ErrOrderNotFound.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.ListUserOrders(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload ChangeStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updated, err := h.service.ChangeStatus(r.Context(), id, order.OrderStatus(requestPayload.Status))
	if err != nil {
		respondWithServiceError(w, err, "change order status")
		return
	}

	respondWithJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) handleAddTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var requestPayload AddTrackingRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	updated, err := h.service.AddTracking(r.Context(), id, requestPayload.Location)
	if err != nil {
		respondWithServiceError(w, err, "add tracking entry")
		return
	}

	respondWithJSON(w, http.StatusCreated, updated)
}
