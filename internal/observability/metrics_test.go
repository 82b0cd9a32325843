package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddleware_RecordsServiceLabel(t *testing.T) {
	m := NewMetrics("test")

	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetServiceLabel(r.Context(), "quantum")
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gateway/quantum/x", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "quantum", "418")))
}

func TestMetricsMiddleware_Unmatched(t *testing.T) {
	m := NewMetrics("test")

	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", unmatchedService, "404")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.SetBuildInfo("v1", "abc")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_build_info"))
}

func TestSetServiceLabel_NoHolder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.NotPanics(t, func() { SetServiceLabel(req.Context(), "x") })
}
