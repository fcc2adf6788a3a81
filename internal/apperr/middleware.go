package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tradeul/scanner-gateway/internal/logger"
)

// Recovery is a middleware that recovers from panics
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.HTTP().Error().Interface("panic", r).Msg("recovered from panic")

				c.JSON(http.StatusInternalServerError, ErrorResponse{
					Error:   ErrCodeInternalServer,
					Message: "An unexpected error occurred",
					Code:    ErrCodeInternalServer,
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
