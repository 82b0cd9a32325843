package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestHandler_Health(t *testing.T) {
	a := NewAggregator(lister(
		named("up", backend(t, ok)),
		named("down", backend(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})),
	))

	engine := gin.New()
	NewHandler(a, "test").RegisterRoutes(engine, "/health")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusDegraded, body.Status)
	assert.Equal(t, StatusUnhealthy, body.Services["down"].Status)
	assert.NotEmpty(t, body.Services["down"].Detail)
}

func TestHandler_Liveness(t *testing.T) {
	engine := gin.New()
	NewHandler(NewAggregator(lister()), "v1.2.3").RegisterRoutes(engine, "/health")

	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "v1.2.3", body["version"])
}
