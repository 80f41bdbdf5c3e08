package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/catalog"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/inventory"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/order"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/pricing"
	"github.com/vasiliy-maslov/ecommerce-microservices/fulfillment-service/internal/review"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

type ctxKey int

const userIDKey ctxKey = iota

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrPaymentFailed),
		errors.Is(err, order.ErrCheckoutAborted),
		errors.Is(err, order.ErrCompensationFailed):
		return http.StatusBadGateway
	case errors.Is(err, order.ErrValidation),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, review.ErrValidation),
		errors.Is(err, pricing.ErrInvalidCoupon),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, inventory.ErrNoItems),
		errors.Is(err, catalog.ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, inventory.ErrProductNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, catalog.ErrCartNotFound),
		errors.Is(err, catalog.ErrCartItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrConcurrentUpdate),
		errors.Is(err, order.ErrDuplicateOrderID),
		errors.Is(err, order.ErrTransactionAlreadyUsed),
		errors.Is(err, order.ErrStatusConflict),
		errors.Is(err, review.ErrDuplicateReview):
		return http.StatusConflict
	case errors.Is(err, review.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, order.ErrTerminalState),
		errors.Is(err, order.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondWithServiceError logs err and writes the mapped status. Internal details never reach the client.
func respondWithServiceError(w http.ResponseWriter, err error, action string) {
	code := mapErrorToStatusCode(err)

	var message string
	switch {
	case code == http.StatusInternalServerError:
		log.Error().Err(err).Msgf("Failed to %s", action)
		message = "Failed to " + action
	case errors.Is(err, order.ErrPaymentFailed):
		log.Warn().Err(err).Msgf("Failed to %s", action)
		message = order.ErrPaymentFailed.Error()
	case code == http.StatusBadGateway:
		log.Error().Err(err).Msgf("Failed to %s", action)
		message = "Checkout could not be completed, please try again"
	default:
		log.Info().Err(err).Int("status", code).Msgf("Rejected request to %s", action)
		message = err.Error()
	}

	respondWithError(w, code, message)
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email address"
		case "oneof":
			details[field] = "must be one of: " + fe.Param()
		case "min", "gte":
			details[field] = "must be at least " + fe.Param()
		case "max", "lte":
			details[field] = "must be at most " + fe.Param()
		default:
			details[field] = fmt.Sprintf("failed on %q", fe.Tag())
		}
	}
	return details
}

// decodeAndValidate writes the error response itself and reports whether the handler may continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}

// RequireUser rejects requests without a caller identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if userID == "" {
			respondWithError(w, http.StatusUnauthorized, "Missing "+UserIDHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
