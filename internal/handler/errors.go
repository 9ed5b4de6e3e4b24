// Package handler provides HTTP handlers for the booking API and live streams.
package handler

import (
	"net/http"

	"market-booking/internal/transport/httpdto"
	market_errors "market-booking/pkg/errors"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
)

// writeError maps a service error onto a status and error code. Unknown
// errors become 500 and are attached to the context for the error middleware.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	} else if status == http.StatusServiceUnavailable {
		_ = c.Error(err)
		msg = "storage temporarily unavailable"
	}
	c.JSON(status, httpdto.NewErrorResponse(msg, code))
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, market_errors.ErrValidation):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, market_errors.ErrMerchantClosed):
		return http.StatusUnprocessableEntity, "MERCHANT_CLOSED"
	case errors.Is(err, market_errors.ErrSlotConflict):
		return http.StatusConflict, "SLOT_CONFLICT"
	case errors.Is(err, market_errors.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, market_errors.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, market_errors.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"
	case errors.Is(err, market_errors.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, market_errors.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, market_errors.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse(msg, "INVALID_REQUEST"))
}
