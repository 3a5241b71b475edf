package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/AnTengye/contractforge/pkg/logger"
	"github.com/gin-gonic/gin"
)

// Recovery turns a handler panic into a 500 with the usual error envelope.
// The panic value and stack only go to the log.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logger.Error(c.Request.Context(), "panic recovered",
				"panic", rec,
				"method", c.Request.Method,
				"route", c.FullPath(),
				"stack", string(debug.Stack()),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error":      "Internal server error",
				"code":       "INTERNAL",
				"request_id": GetRequestID(c),
			})
		}()

		c.Next()
	}
}
