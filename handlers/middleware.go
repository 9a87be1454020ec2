package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstack-rag/auth"
)

// AuthMiddleware validates the bearer token and stores the resolved actor
// on the request context.
func AuthMiddleware(validator *auth.JWTValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token", "details": err.Error()})
			c.Abort()
			return
		}

		c.Set(actorKey, validator.ExtractActor(claims))
		c.Next()
	}
}
