package handler

import (
	"errors"
	"net/http"

	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error            string `json:"error"`
	Message          string `json:"message"`
	RequiresPassword bool   `json:"requires_password,omitempty"`
}

type errorKind struct {
	err     error
	status  int
	code    string
	message string
}

// errorKinds maps service errors to HTTP responses. Order matters only for readability; kinds don't overlap.
var errorKinds = []errorKind{
	{service.ErrNotFound, http.StatusNotFound, "not_found", "URL not found"},
	{service.ErrInactive, http.StatusForbidden, "url_inactive", "URL is inactive"},
	{service.ErrExpired, http.StatusForbidden, "url_expired", "URL has expired"},
	{service.ErrLimitExceeded, http.StatusForbidden, "click_limit_reached", "URL click limit reached"},
	{service.ErrPasswordRequired, http.StatusUnauthorized, "password_required", "Password required"},
	{service.ErrIncorrectPassword, http.StatusUnauthorized, "incorrect_password", "Incorrect password"},
	{service.ErrUnauthorized, http.StatusForbidden, "forbidden", "Not allowed to access this URL"},

	{service.ErrInvalidURL, http.StatusBadRequest, "invalid_url", "Invalid URL format"},
	{service.ErrBlockedDomain, http.StatusBadRequest, "blocked_domain", "Domain is blocked"},
	{service.ErrInvalidSlug, http.StatusBadRequest, "invalid_slug", "Custom slug must be 4-32 characters of letters, digits, '-' or '_'"},
	{service.ErrInvalidExpiry, http.StatusBadRequest, "invalid_expiry", "Expiration date must be in the future"},
	{service.ErrInvalidClickLimit, http.StatusBadRequest, "invalid_click_limit", "Click limit must be positive"},
	{service.ErrSlugTaken, http.StatusConflict, "slug_taken", "Slug already taken"},

	{service.ErrNoActiveSubscription, http.StatusForbidden, "no_active_subscription", "No active subscription"},
	{service.ErrFeatureNotInPlan, http.StatusForbidden, "feature_not_in_plan", "Feature is not included in your plan"},
	{service.ErrUsageLimitExceeded, http.StatusTooManyRequests, "usage_limit_exceeded", "Feature usage limit exceeded"},
}

func lookupError(err error) (errorKind, bool) {
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k, true
		}
	}
	return errorKind{}, false
}

// writeError renders a service error; unknown errors become 500 and are logged.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	kind, ok := lookupError(err)
	if !ok {
		logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Internal server error",
		})
		return
	}

	c.JSON(kind.status, ErrorResponse{
		Error:            kind.code,
		Message:          kind.message,
		RequiresPassword: kind.status == http.StatusUnauthorized,
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}
