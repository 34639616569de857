package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Ключи контекста gin
const (
	ContextUserID        = "user_id"
	ContextAuthenticated = "authenticated"
)

// APIKeyConfig конфигурация аутентификации по API ключу
type APIKeyConfig struct {
	// Keys карта API ключ -> id пользователя
	Keys map[string]string
	// HeaderName имя заголовка (по умолчанию X-API-Key)
	HeaderName string
	// Optional пропускает запросы без ключа как анонимные
	Optional bool
}

// APIKey middleware, определяющий пользователя по ключу
type APIKey struct {
	config APIKeyConfig
}

// NewAPIKey создаёт API key middleware
func NewAPIKey(config APIKeyConfig) *APIKey {
	if config.HeaderName == "" {
		config.HeaderName = "X-API-Key"
	}
	return &APIKey{config: config}
}

// extractKey ищет ключ в заголовке, затем в Authorization: Bearer
func (ak *APIKey) extractKey(c *gin.Context) string {
	if key := c.GetHeader(ak.config.HeaderName); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// lookup сравнивает ключ со всеми известными за постоянное время
func (ak *APIKey) lookup(key string) (string, bool) {
	var (
		userID string
		found  bool
	)
	for validKey, uid := range ak.config.Keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			userID = uid
			found = true
		}
	}
	return userID, found
}

// Middleware кладёт id пользователя в контекст или отвечает 401
func (ak *APIKey) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ak.extractKey(c)

		if key == "" {
			if ak.config.Optional {
				c.Set(ContextAuthenticated, false)
				c.Next()
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_api_key",
				"message": "API key required: pass it in X-API-Key or Authorization: Bearer",
			})
			return
		}

		userID, ok := ak.lookup(key)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_api_key",
				"message": "Invalid API key",
			})
			return
		}

		c.Set(ContextAuthenticated, true)
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// RequireAPIKey middleware для защищённых маршрутов
func RequireAPIKey(keys map[string]string) gin.HandlerFunc {
	return NewAPIKey(APIKeyConfig{Keys: keys}).Middleware()
}

// OptionalAPIKey определяет пользователя, если ключ передан
func OptionalAPIKey(keys map[string]string) gin.HandlerFunc {
	return NewAPIKey(APIKeyConfig{Keys: keys, Optional: true}).Middleware()
}

// GetUserID возвращает id аутентифицированного пользователя
func GetUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextUserID)
	if !exists {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok && userID != ""
}
