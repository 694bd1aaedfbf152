package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryMiddleware turns a panic anywhere in the request chain into a 500
// response. A pipeline run triggered over the API keeps running in its own
// goroutine; only the request that panicked is aborted.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				zap.L().Error("Panic recovered in request handler",
					zap.Any("panic", r),
					zap.String("path", ctx.Request.URL.Path),
					zap.String("stack", string(debug.Stack())))
				ctx.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		ctx.Next()
	}
}
