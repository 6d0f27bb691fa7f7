package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"live-bidding/internal/biddingerrors"
	"live-bidding/utils"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrBidTooLow):
		return http.StatusConflict, "bid amount too low"
	case errors.Is(err, biddingerrors.ErrAlreadyHighestBidder):
		return http.StatusConflict, "you already hold the highest bid"
	case errors.Is(err, biddingerrors.ErrAuctionClosed):
		return http.StatusConflict, "auction is closed"
	case errors.Is(err, biddingerrors.ErrInvalidTransition):
		return http.StatusConflict, "invalid auction state transition"
	case errors.Is(err, biddingerrors.ErrAuctionActive):
		return http.StatusConflict, "auction is active"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusUnprocessableEntity, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrPersistence):
		return http.StatusServiceUnavailable, "storage unavailable, try again"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// RespondError writes the mapped error. Bid rejections also carry their reason and, when too low,
// the minimum acceptable amount.
func RespondError(c *gin.Context, err error) (int, string) {
	status, message := MapErrorToHTTP(err)
	wrapped := fmt.Errorf("%s: %w", message, err)

	rej, ok := biddingerrors.AsRejection(err)
	if !ok {
		utils.JSONError(c, status, wrapped, message)
		return status, message
	}

	extra := gin.H{"reason": rej.Reason}
	if rej.Reason == biddingerrors.ReasonBidTooLow {
		extra["minimum_amount"] = rej.MinimumAmount
	}
	utils.JSONError(c, status, wrapped, message, extra)
	return status, message
}

// PageParams reads the 1-based page and limit query parameters, falling back to defaults on bad input
func PageParams(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", strconv.Itoa(defaultPage)))
	if err != nil || page < 1 {
		page = defaultPage
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
