package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Recovery turns a handler panic into a logged 500. The stack goes to the
// log, never to the client.
func Recovery(log *logger.CtxZapLogger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetLogger("http")
	}
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.ErrorCtx(c.Request.Context(), "panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.String("stack", string(debug.Stack())),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "Internal Server Error",
					"message": fmt.Sprintf("%v", err),
				})
			}
		}()
		c.Next()
	}
}
