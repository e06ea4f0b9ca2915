package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler answers 503 only when a check is unhealthy; degraded is still
// served with 200.
func Handler(a *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := a.Check(c.Request.Context())
		code := http.StatusOK
		if resp.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

func RegisterRoutes(r gin.IRoutes, a *Aggregator) {
	r.GET("/health", Handler(a))
}
