package registry

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/tiergate/internal/config"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := &config.GatewayConfig{Services: []config.ServiceConfig{
		{Name: "quantum", Upstream: "http://quantum:8000", RateLimit: config.ServiceRateLimit{MaxRequests: 50}},
		{Name: "ai", Upstream: "http://ai:8001/base", InternalPath: "/v1"},
		{Name: "ai-batch", Upstream: "http://batch:8002", PathPrefix: "/gateway/ai/batch"},
	}}
	cfg.SetDefaults()

	r, err := FromConfig(cfg.Services)
	require.NoError(t, err)
	return r
}

func TestRegistry_Lookup(t *testing.T) {
	r := testRegistry(t)

	svc, err := r.Lookup("quantum")
	require.NoError(t, err)
	assert.Equal(t, "/gateway/quantum", svc.PathPrefix)
	assert.Equal(t, 50, svc.Policy.MaxRequests)
	assert.Equal(t, time.Minute, svc.Policy.Window)

	_, err = r.Lookup("missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownService))

	var use *UnknownServiceError
	require.True(t, errors.As(err, &use))
	assert.Equal(t, "missing", use.Name)
}

func TestRegistry_Match(t *testing.T) {
	r := testRegistry(t)

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "/gateway/quantum", want: "quantum"},
		{path: "/gateway/quantum/simulate", want: "quantum"},
		{path: "/gateway/quantumx", wantErr: true},
		{path: "/gateway/ai/chat", want: "ai"},
		{path: "/gateway/ai/batch/jobs", want: "ai-batch"},
		{path: "/other", wantErr: true},
		{path: "/gateway/quantum/../ai/chat", want: "ai"},
		{path: "/gateway/ai/../../admin", wantErr: true},
		{path: "/gateway//quantum/./x", want: "quantum"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			svc, err := r.Match(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownService)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, svc.Name)
		})
	}
}

func TestServiceDescriptor_RewritePath(t *testing.T) {
	r := testRegistry(t)

	quantum, _ := r.Lookup("quantum")
	assert.Equal(t, "/simulate", quantum.RewritePath("/gateway/quantum/simulate"))
	assert.Equal(t, "/", quantum.RewritePath("/gateway/quantum"))

	ai, _ := r.Lookup("ai")
	assert.Equal(t, "/base/v1/chat/completions", ai.RewritePath("/gateway/ai/chat/completions"))
	assert.Equal(t, "/base/v1", ai.RewritePath("/gateway/ai"))
	assert.Equal(t, "/base/v1/completions", ai.RewritePath("/gateway/ai/chat/../completions"))
	assert.Equal(t, "/base/v1/chat/", ai.RewritePath("/gateway/ai/chat/"))
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"":                    "/",
		"/":                   "/",
		"gateway/ai":          "/gateway/ai",
		"/gateway/ai/../../x": "/x",
		"/gateway/ai/./chat/": "/gateway/ai/chat/",
		"/gateway//ai///chat": "/gateway/ai/chat",
		"/../../etc/passwd":   "/etc/passwd",
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanPath(in), in)
	}
}

func TestServiceDescriptor_HealthURL(t *testing.T) {
	d := &ServiceDescriptor{Upstream: mustURL(t, "http://svc:9000/api?x=1"), HealthPath: "/health"}
	assert.Equal(t, "http://svc:9000/api/health", d.HealthURL())
}

func TestRegistry_Services(t *testing.T) {
	r := testRegistry(t)

	names := make([]string, 0, r.Len())
	for _, svc := range r.Services() {
		names = append(names, svc.Name)
	}
	assert.Equal(t, []string{"ai", "ai-batch", "quantum"}, names)
}

func TestNew_Errors(t *testing.T) {
	u := mustURL(t, "http://a:1")

	tests := []struct {
		name     string
		services []*ServiceDescriptor
	}{
		{name: "missing name", services: []*ServiceDescriptor{{Upstream: u}}},
		{name: "missing upstream", services: []*ServiceDescriptor{{Name: "a"}}},
		{name: "duplicate name", services: []*ServiceDescriptor{
			{Name: "a", Upstream: u, PathPrefix: "/a"},
			{Name: "a", Upstream: u, PathPrefix: "/b"},
		}},
		{name: "duplicate prefix", services: []*ServiceDescriptor{
			{Name: "a", Upstream: u, PathPrefix: "/x"},
			{Name: "b", Upstream: u, PathPrefix: "/x"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.services)
			assert.Error(t, err)
		})
	}
}
