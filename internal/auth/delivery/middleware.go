package delivery

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"crm-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

// CronSecretHeader carries the shared secret of the scheduler endpoints.
const CronSecretHeader = "X-Cron-Secret"

func AuthMiddleware(authUsecase usecase.AuthUsecase) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid authorization header format"})
			return
		}

		owner, err := authUsecase.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid or expired token"})
			return
		}

		c.Set("owner", owner)
		c.Next()
	}
}

// CronSecretMiddleware rejects requests whose X-Cron-Secret header does not
// match secret. An empty secret rejects every request.
func CronSecretMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(CronSecretHeader)
		if secret == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"status": "error", "error": "invalid cron secret"})
			return
		}
		c.Next()
	}
}
