package registry

import (
	"net/http"
	"strconv"

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
//	GET    /discovery/service/:name
//	GET    /discovery/services/:name
//	GET    /discovery/services
//	POST   /discovery/register
//	PUT    /discovery/heartbeat/:id?load=n
//	DELETE /discovery/instances/:id
//	GET    /discovery/health
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/discovery")
	g.GET("/service/:name", h.single)
	g.GET("/services/:name", h.alive)
	g.GET("/services", h.services)
	g.POST("/register", h.register)
	g.PUT("/heartbeat/:id", h.heartbeat)
	g.DELETE("/instances/:id", h.unregister)
	g.GET("/health", h.health)
}

func (h *Handler) single(c *gin.Context) {
	name := c.Param("name")
	inst, ok := h.registry.QuerySingle(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Service not found: " + name})
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *Handler) alive(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.QueryAlive(c.Param("name")))
}

func (h *Handler) services(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Services())
}

func (h *Handler) register(c *gin.Context) {
	var inst ServiceInstance
	if err := c.ShouldBindJSON(&inst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if inst.InstanceID == "" || inst.ServiceName == "" || inst.Port <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instanceId, serviceName and port are required"})
		return
	}
	h.registry.Register(c.Request.Context(), inst)
	c.JSON(http.StatusCreated, gin.H{"instanceId": inst.InstanceID})
}

func (h *Handler) heartbeat(c *gin.Context) {
	id := c.Param("id")
	var ok bool
	if raw := c.Query("load"); raw != "" {
		load, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid load: " + raw})
			return
		}
		ok = h.registry.HeartbeatWithLoad(c.Request.Context(), id, load)
	} else {
		ok = h.registry.Heartbeat(c.Request.Context(), id)
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Instance not found: " + id})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) unregister(c *gin.Context) {
	id := c.Param("id")
	if !h.registry.Unregister(c.Request.Context(), id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Instance not found: " + id})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "UP",
		"service":   "service-discovery",
		"instances": h.registry.Len(),
	})
}
