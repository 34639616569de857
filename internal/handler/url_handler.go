package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/middleware"
	"github.com/SergeiKhy/shortlink-core/internal/models"
	"github.com/SergeiKhy/shortlink-core/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type URLHandler struct {
	service service.URLService
	baseURL string
	logger  *zap.Logger
}

func NewURLHandler(service service.URLService, baseURL string, logger *zap.Logger) *URLHandler {
	return &URLHandler{
		service: service,
		baseURL: baseURL,
		logger:  logger,
	}
}

type CreateURLRequest struct {
	OriginalURL string     `json:"original_url" binding:"required"`
	CustomSlug  string     `json:"custom_slug,omitempty"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Password    string     `json:"password,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	ClickLimit  *int64     `json:"click_limit,omitempty"`
}

type URLResponse struct {
	*models.URL
	ShortURL    string `json:"short_url"`
	HasPassword bool   `json:"has_password"`
}

type URLListResponse struct {
	Items      []URLResponse `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

func (h *URLHandler) toResponse(u *models.URL) URLResponse {
	return URLResponse{
		URL:         u,
		ShortURL:    h.baseURL + "/r/" + u.Slug,
		HasPassword: u.HasPassword(),
	}
}

// Create registers a new short URL for the caller.
func (h *URLHandler) Create(c *gin.Context) {
	var req CreateURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		badRequest(c, err.Error())
		return
	}

	ownerID, _ := middleware.GetUserID(c)
	u, err := h.service.Create(c.Request.Context(), ownerID, &models.CreateURLInput{
		OriginalURL: req.OriginalURL,
		CustomSlug:  req.CustomSlug,
		Title:       req.Title,
		Description: req.Description,
		Password:    req.Password,
		ExpiresAt:   req.ExpiresAt,
		ClickLimit:  req.ClickLimit,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, h.toResponse(u))
}

func (h *URLHandler) Get(c *gin.Context) {
	ownerID, _ := middleware.GetUserID(c)
	u, err := h.service.Get(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(u))
}

// List returns the caller's URLs, newest first. Pass next_cursor back as ?cursor= for the next page.
func (h *URLHandler) List(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	ownerID, _ := middleware.GetUserID(c)
	page, err := h.service.List(c.Request.Context(), ownerID, limit, c.Query("cursor"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	resp := URLListResponse{
		Items:      make([]URLResponse, 0, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for _, u := range page.Items {
		resp.Items = append(resp.Items, h.toResponse(u))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *URLHandler) Update(c *gin.Context) {
	var req models.UpdateURLInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ownerID, _ := middleware.GetUserID(c)
	u, err := h.service.Update(c.Request.Context(), ownerID, c.Param("id"), &req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(u))
}

func (h *URLHandler) ToggleStatus(c *gin.Context) {
	ownerID, _ := middleware.GetUserID(c)
	u, err := h.service.ToggleStatus(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(u))
}

func (h *URLHandler) Delete(c *gin.Context) {
	ownerID, _ := middleware.GetUserID(c)
	if err := h.service.Delete(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "URL deleted successfully"})
}

// Analytics accepts from/to as YYYY-MM-DD or RFC3339; both are optional.
func (h *URLHandler) Analytics(c *gin.Context) {
	from, err := parseDate(c.Query("from"))
	if err != nil {
		badRequest(c, "from must be YYYY-MM-DD or RFC3339")
		return
	}
	to, err := parseDate(c.Query("to"))
	if err != nil {
		badRequest(c, "to must be YYYY-MM-DD or RFC3339")
		return
	}

	ownerID, _ := middleware.GetUserID(c)
	stats, err := h.service.Analytics(c.Request.Context(), ownerID, c.Param("id"), from, to)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
