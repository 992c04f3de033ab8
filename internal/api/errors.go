package api

import (
	"errors"
	"net/http"

	"github.com/example/ec-fulfillment/internal/domain/inventory"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/product"
	"github.com/example/ec-fulfillment/internal/fulfillment"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/logistics"
	"github.com/example/ec-fulfillment/internal/notification"
)

// ErrBadRequest marks malformed bodies and query parameters.
var ErrBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor maps domain errors to HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrProductNotFound),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return http.StatusConflict, "insufficient_stock"
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, order.ErrShipmentAlreadyExists):
		return http.StatusConflict, "shipment_exists"
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "version_conflict"
	case errors.Is(err, logistics.ErrProviderUnavailable),
		errors.Is(err, notification.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, ErrBadRequest), fulfillment.IsValidation(err):
		return http.StatusBadRequest, "validation"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
