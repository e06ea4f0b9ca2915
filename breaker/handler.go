package breaker

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes a Registry over HTTP.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes mounts
//
//	GET  /circuit-breaker
//	GET  /circuit-breaker/:name/allow
//	GET  /circuit-breaker/:name/status
//	POST /circuit-breaker/:name/success
//	POST /circuit-breaker/:name/failure
//	POST /circuit-breaker/:name/reset
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/circuit-breaker")
	g.GET("", h.list)
	g.GET("/:name/allow", h.allow)
	g.GET("/:name/status", h.status)
	g.POST("/:name/success", h.success)
	g.POST("/:name/failure", h.failure)
	g.POST("/:name/reset", h.reset)
}

func (h *Handler) list(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.All())
}

func (h *Handler) allow(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Check(c.Request.Context(), c.Param("name")))
}

func (h *Handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Get(c.Param("name")).Snapshot())
}

func (h *Handler) success(c *gin.Context) {
	cb := h.registry.Get(c.Param("name"))
	cb.RecordSuccess()
	c.JSON(http.StatusOK, cb.Snapshot())
}

func (h *Handler) failure(c *gin.Context) {
	cb := h.registry.Get(c.Param("name"))
	cb.RecordFailure()
	c.JSON(http.StatusOK, cb.Snapshot())
}

func (h *Handler) reset(c *gin.Context) {
	cb := h.registry.Get(c.Param("name"))
	cb.Reset()
	c.JSON(http.StatusOK, cb.Snapshot())
}
