package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/casebook-api/internal/models"
)

// Audit stores the caller's address and user agent on the request context so
// audit records written by services carry them.
func Audit() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := models.WithRequestOrigin(c.Request.Context(), models.RequestOrigin{
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
