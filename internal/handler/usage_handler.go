package handler

import (
	"net/http"
	"strconv"

	"github.com/SergeiKhy/shortlink-core/internal/middleware"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type UsageHandler struct {
	throttle service.UsageThrottle
	logger   *zap.Logger
}

func NewUsageHandler(throttle service.UsageThrottle, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{throttle: throttle, logger: logger}
}

// Check reports whether the caller could consume ?amount= (default 1) more units of a feature.
// It never consumes anything.
func (h *UsageHandler) Check(c *gin.Context) {
	amount := int64(1)
	if raw := c.Query("amount"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			badRequest(c, "amount must be a positive integer")
			return
		}
		amount = n
	}

	userID, _ := middleware.GetUserID(c)
	check, err := h.throttle.CheckLimit(c.Request.Context(), userID, c.Param("feature"), amount)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, check)
}
