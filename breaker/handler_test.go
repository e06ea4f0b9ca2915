package breaker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KOMKZ/yogan-mesh/logger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, reg *Registry) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewHandler(reg).RegisterRoutes(engine)
	return engine
}

func doRequest(engine *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	engine.ServeHTTP(w, req)
	return w
}

func TestHandler_AllowAndStatus(t *testing.T) {
	reg, err := NewRegistry(DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	engine := newTestEngine(t, reg)

	w := doRequest(engine, http.MethodGet, "/circuit-breaker/user-service/allow")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"allowed":true,"state":"CLOSED","breakerName":"user-service"}`, w.Body.String())

	for i := 0; i < 5; i++ {
		w = doRequest(engine, http.MethodPost, "/circuit-breaker/user-service/failure")
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w = doRequest(engine, http.MethodGet, "/circuit-breaker/user-service/allow")
	assert.JSONEq(t, `{"allowed":false,"state":"OPEN","breakerName":"user-service"}`, w.Body.String())

	w = doRequest(engine, http.MethodGet, "/circuit-breaker/user-service/status")
	var snap Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, StateOpen, snap.State)
	assert.Equal(t, 5, snap.FailureCount)

	w = doRequest(engine, http.MethodPost, "/circuit-breaker/user-service/reset")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, StateClosed, snap.State)

	w = doRequest(engine, http.MethodPost, "/circuit-breaker/user-service/success")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(engine, http.MethodGet, "/circuit-breaker")
	var all []Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	assert.Len(t, all, 1)
}

func TestRemoteChecker(t *testing.T) {
	reg, err := NewRegistry(DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(newTestEngine(t, reg))
	defer ts.Close()

	checker := NewRemoteChecker(ts.URL, time.Second, logger.Nop())
	d := checker.Check(context.Background(), "user-service")
	assert.True(t, d.Allowed)
	assert.False(t, d.FailOpen)

	for i := 0; i < 5; i++ {
		reg.Get("user-service").RecordFailure()
	}
	d = checker.Check(context.Background(), "user-service")
	assert.False(t, d.Allowed)
	assert.Equal(t, StateOpen, d.State)
}

func TestRemoteChecker_FailsOpen(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer slow.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	for name, url := range map[string]string{
		"timeout":      slow.URL,
		"server error": broken.URL,
		"unreachable":  "http://127.0.0.1:1",
	} {
		t.Run(name, func(t *testing.T) {
			log, logs := logger.NewObserved("breaker")
			d := NewRemoteChecker(url, 50*time.Millisecond, log).Check(context.Background(), "user-service")
			assert.True(t, d.Allowed)
			assert.True(t, d.FailOpen)
			assert.Equal(t, 1, logs.FilterMessage("circuit breaker check failed, allowing").Len())
		})
	}
}
