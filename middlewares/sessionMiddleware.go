package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/utils"
)

// SessionMiddleware resolves an opaque `token` header through redis (Token:<token> -> owner id).
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		ownerId, exists, err := config.GetRedisValue("Token:" + token)
		if err != nil || !exists || ownerId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetOwnerIdInContext(ctx, ownerId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
