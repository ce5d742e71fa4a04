package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/card_audit_backend/utils"
)

// AuthMiddleware validates a Bearer JWT and puts its user id into the request
// context as the owner id. Requests without Authorization pass through untouched.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.Request.Header.Get("Authorization")
		if auth == "" {
			c.Next()
			return
		}

		const bearer = "Bearer "
		if !strings.HasPrefix(auth, bearer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		validate, err := utils.JwtValidate(auth[len(bearer):])
		if err != nil || !validate.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		customClaim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok || customClaim.UserId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		ctx := utils.SetOwnerIdInContext(c.Request.Context(), customClaim.UserId)
		if customClaim.Role == "admin" {
			ctx = utils.SetIsAdminInContext(ctx, true)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireOwner rejects requests that no auth middleware attached an owner to.
func RequireOwner() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetOwnerIdFromContext(c.Request.Context()); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
