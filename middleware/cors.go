package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type CORSConfig struct {
	Enable           bool     `mapstructure:"enable"`
	AllowOrigins     []string `mapstructure:"allow_origins"`
	AllowMethods     []string `mapstructure:"allow_methods"`
	AllowHeaders     []string `mapstructure:"allow_headers"`
	ExposeHeaders    []string `mapstructure:"expose_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	// MaxAge is the preflight cache time in seconds.
	MaxAge int `mapstructure:"max_age"`
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Client-ID", "X-Trace-ID"},
		MaxAge:       43200,
	}
}

func (c *CORSConfig) ApplyDefaults() {
	d := DefaultCORSConfig()
	if len(c.AllowOrigins) == 0 {
		c.AllowOrigins = d.AllowOrigins
	}
	if len(c.AllowMethods) == 0 {
		c.AllowMethods = d.AllowMethods
	}
	if len(c.AllowHeaders) == 0 {
		c.AllowHeaders = d.AllowHeaders
	}
	if c.MaxAge == 0 {
		c.MaxAge = d.MaxAge
	}
}

// CORS answers preflight requests itself and decorates the rest. A request
// from an origin outside AllowOrigins passes through undecorated.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	cfg.ApplyDefaults()
	wildcard := len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*"
	methods := strings.Join(cfg.AllowMethods, ", ")
	headers := strings.Join(cfg.AllowHeaders, ", ")
	expose := strings.Join(cfg.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		allowed := ""
		if wildcard {
			allowed = "*"
		} else if origin != "" {
			for _, o := range cfg.AllowOrigins {
				if o == origin {
					allowed = origin
					break
				}
			}
		}
		if allowed == "" && origin != "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		if allowed != "" {
			h.Set("Access-Control-Allow-Origin", allowed)
		}
		h.Set("Access-Control-Allow-Methods", methods)
		h.Set("Access-Control-Allow-Headers", headers)
		if expose != "" {
			h.Set("Access-Control-Expose-Headers", expose)
		}
		if cfg.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
