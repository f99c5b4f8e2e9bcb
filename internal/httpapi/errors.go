package httpapi

import (
	"errors"
	"net/http"

	"outbound-dialer/internal/bulk"
	"outbound-dialer/internal/calls"
	"outbound-dialer/internal/reporting"
	"outbound-dialer/internal/telephony"
	"outbound-dialer/internal/webhook"
	"outbound-dialer/pkg/logger"
	"outbound-dialer/pkg/utils"

	"github.com/gin-gonic/gin"
)

// Error categories returned to API callers.
const (
	CategoryValidation = "validation"
	CategoryProvider   = "provider"
	CategoryNotFound   = "not_found"
	CategoryConflict   = "conflict"
	CategoryBusy       = "busy"
	CategoryInternal   = "internal"
)

type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	// BulkSessionID names a campaign that was created before the request failed.
	BulkSessionID string `json:"bulk_session_id,omitempty"`
}

// classify maps a service error to an HTTP status and category.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, telephony.ErrInvalidPhone),
		errors.Is(err, calls.ErrInvalidArgument),
		errors.Is(err, webhook.ErrInvalidEvent),
		errors.Is(err, reporting.ErrInvalidRequest):
		return http.StatusBadRequest, CategoryValidation
	case errors.Is(err, telephony.ErrProvider):
		return http.StatusBadGateway, CategoryProvider
	case errors.Is(err, calls.ErrNotFound),
		errors.Is(err, bulk.ErrNotFound),
		errors.Is(err, webhook.ErrUnknownCall):
		return http.StatusNotFound, CategoryNotFound
	case errors.Is(err, bulk.ErrInvalidTransition),
		errors.Is(err, calls.ErrAlreadyCalled):
		return http.StatusConflict, CategoryConflict
	case utils.IsLockNotAvailable(err):
		// Another request holds the session or campaign row; safe to retry.
		return http.StatusServiceUnavailable, CategoryBusy
	default:
		return http.StatusInternalServerError, CategoryInternal
	}
}

// abortWithError writes the structured error payload. Internal errors are logged and
// replaced by a generic message.
func abortWithError(c *gin.Context, err error) {
	status, category := classify(err)
	msg := err.Error()
	if category == CategoryInternal {
		logger.FromGin(c).Error("request failed", "err", err)
		msg = "internal error"
	}
	resp := errorResponse{Error: msg, Category: category}
	var startErr *bulk.StartError
	if errors.As(err, &startErr) {
		resp.BulkSessionID = startErr.BulkSessionID
	}
	c.AbortWithStatusJSON(status, resp)
}

func abortValidation(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg, Category: CategoryValidation})
}
