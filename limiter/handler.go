package limiter

import (
	"net/http"

	"github.com/KOMKZ/yogan-mesh/event"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes a Coordinator over HTTP.
type Handler struct {
	coordinator *Coordinator
}

func NewHandler(c *Coordinator) *Handler {
	return &Handler{coordinator: c}
}

// RegisterRoutes mounts
//
//	POST /rate-limit/check
//	GET  /rate-limit/health
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/rate-limit")
	g.POST("/check", h.check)
	g.GET("/health", h.health)
}

func (h *Handler) check(c *gin.Context) {
	var req event.RateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ClientID == "" || req.ServiceName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId and serviceName are required"})
		return
	}

	res, err := h.coordinator.Check(c.Request.Context(), req)
	if err != nil {
		h.coordinator.logger.ErrorCtx(c.Request.Context(), "rate limit check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limit store unavailable"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "rate-limiter-service"})
}
