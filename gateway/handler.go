package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the gateway's own state under /gateway.
type Handler struct {
	gateway *Gateway
}

func NewHandler(g *Gateway) *Handler {
	return &Handler{gateway: g}
}

// RegisterRoutes mounts:
//
//	GET /gateway/routes            route table in match order
//	GET /gateway/instances/:name   cached instance of a service
//	GET /gateway/health
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/gateway")
	g.GET("/routes", h.routes)
	g.GET("/instances/:name", h.instance)
	g.GET("/health", h.health)
}

type routeView struct {
	Pattern      string `json:"pattern"`
	Service      string `json:"serviceName"`
	TargetPrefix string `json:"targetPrefix"`
}

func (h *Handler) routes(c *gin.Context) {
	routes := h.gateway.Routes().Routes()
	out := make([]routeView, 0, len(routes))
	for _, r := range routes {
		out = append(out, routeView{Pattern: r.Pattern, Service: r.Service, TargetPrefix: r.TargetPrefix})
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) instance(c *gin.Context) {
	name := c.Param("name")
	inst, ok := h.gateway.Resolver().Cached(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No cached instance for " + name})
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "api-gateway"})
}
