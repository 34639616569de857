package handler

import (
	"net/http"

	"github.com/SergeiKhy/shortlink-core/internal/middleware"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const passwordHeader = "X-Url-Password"

type RedirectHandler struct {
	resolver service.Resolver
	logger   *zap.Logger
}

func NewRedirectHandler(resolver service.Resolver, logger *zap.Logger) *RedirectHandler {
	return &RedirectHandler{
		resolver: resolver,
		logger:   logger,
	}
}

type RedirectRequest struct {
	Password string `json:"password"`
}

// Redirect resolves a slug and answers 302 to the destination.
// The password may come from the "password" query, the X-Url-Password header or a JSON body on POST.
func (h *RedirectHandler) Redirect(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		badRequest(c, "Slug is required")
		return
	}

	req := service.ResolveRequest{
		Slug:      slug,
		Password:  h.password(c),
		ClientIP:  c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	}
	if userID, ok := middleware.GetUserID(c); ok {
		req.UserID = userID
	}

	target, err := h.resolver.Resolve(c.Request.Context(), req)
	if err != nil {
		h.logger.Debug("Redirect rejected", zap.String("slug", slug), zap.Error(err))
		writeError(c, h.logger, err)
		return
	}

	c.Redirect(http.StatusFound, target)
}

func (h *RedirectHandler) password(c *gin.Context) string {
	if p := c.Query("password"); p != "" {
		return p
	}
	if p := c.GetHeader(passwordHeader); p != "" {
		return p
	}
	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		var body RedirectRequest
		if err := c.ShouldBindJSON(&body); err == nil {
			return body.Password
		}
	}
	return ""
}
