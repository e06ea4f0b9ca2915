package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(cfg CORSConfig) *gin.Engine {
	router := gin.New()
	router.Use(CORS(cfg))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCORS_Wildcard(t *testing.T) {
	router := corsRouter(CORSConfig{})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Client-ID")
	assert.Empty(t, w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_Preflight(t *testing.T) {
	router := corsRouter(CORSConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "43200", w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_AllowList(t *testing.T) {
	router := corsRouter(CORSConfig{
		AllowOrigins:     []string{"https://a.example"},
		AllowCredentials: true,
		ExposeHeaders:    []string{"X-Trace-ID"},
	})

	tests := []struct {
		name   string
		origin string
		want   string
	}{
		{"listed", "https://a.example", "https://a.example"},
		{"unlisted", "https://b.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.want != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
				assert.Equal(t, "X-Trace-ID", w.Header().Get("Access-Control-Expose-Headers"))
			}
		})
	}
}
