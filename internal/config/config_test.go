package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfigYAML is a minimal valid configuration for testing.
const validConfigYAML = `
listen: ":9090"
services:
  - name: quantum
    upstream: http://quantum.internal:8000
    description: Quantum simulation
    rateLimit:
      window: 60s
      maxRequests: 50
  - name: ai
    upstream: http://ai.internal:8001
    internalPath: /v1
`

func TestLoadConfigFromReader_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromReader(strings.NewReader(validConfigYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, DefaultTier, cfg.DefaultTier)
	assert.Len(t, cfg.Tiers, 5)
	assert.Equal(t, StoreMemory, cfg.RateLimit.Store)
	assert.Equal(t, StoreMemory, cfg.Usage.Store)
	assert.Equal(t, DefaultBreakerThreshold, cfg.CircuitBreaker.Threshold)
	assert.Equal(t, DefaultBreakerCooldown, cfg.CircuitBreaker.Cooldown.Duration())
	assert.Equal(t, DefaultProbeTimeout, cfg.Health.Timeout.Duration())
	assert.True(t, cfg.Metrics.IsEnabled())

	require.Len(t, cfg.Services, 2)
	q := cfg.Services[0]
	assert.Equal(t, "/gateway/quantum", q.PathPrefix)
	assert.Equal(t, "/", q.InternalPath)
	assert.Equal(t, "/health", q.HealthPath)
	assert.Equal(t, 50, q.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, q.RateLimit.Window.Duration())

	ai := cfg.Services[1]
	assert.Equal(t, "/v1", ai.InternalPath)
	assert.Equal(t, DefaultServiceMax, ai.RateLimit.MaxRequests)
}

func TestLoadConfigFromReader_RedisDefaultsStores(t *testing.T) {
	yaml := validConfigYAML + `
redis:
  address: localhost:6379
`
	cfg, err := LoadConfigFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.RateLimit.Store)
	assert.Equal(t, StoreRedis, cfg.Usage.Store)
	assert.Equal(t, DefaultRedisPrefix, cfg.Redis.Prefix)
}

func TestLoadConfigFromReader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "empty", yaml: "  \n", wantErr: "configuration is empty"},
		{name: "malformed", yaml: "services: [", wantErr: "failed to parse YAML"},
		{name: "unknown field", yaml: "bogus: 1\n" + validConfigYAML, wantErr: "failed to parse YAML"},
		{name: "no services", yaml: "listen: \":8080\"\n", wantErr: "at least one service"},
		{
			name: "duplicate service",
			yaml: `
services:
  - name: a
    upstream: http://a:1
  - name: a
    upstream: http://b:1
`,
			wantErr: "duplicate service",
		},
		{
			name: "bad upstream",
			yaml: `
services:
  - name: a
    upstream: "ftp://a"
`,
			wantErr: "invalid upstream",
		},
		{
			name: "reserved prefix",
			yaml: `
services:
  - name: usage
    upstream: http://u:1
`,
			wantErr: "reserved for the gateway",
		},
		{
			name: "unknown default tier",
			yaml: "defaultTier: gold\n" + validConfigYAML,
			wantErr: `tier "gold" is not defined`,
		},
		{
			name: "redis store without address",
			yaml: "rateLimit:\n  store: redis\n" + validConfigYAML,
			wantErr: "requires redis.address",
		},
		{
			name: "bad prune schedule",
			yaml: "usage:\n  pruneSchedule: nope\n" + validConfigYAML,
			wantErr: "usage.pruneSchedule",
		},
		{
			name: "api key with unknown tier",
			yaml: `
tierProvider:
  apiKeys:
    k1: {subject: alice, tier: platinum}
` + validConfigYAML,
			wantErr: `unknown tier "platinum"`,
		},
		{
			name: "http provider without url",
			yaml: "tierProvider:\n  type: http\n" + validConfigYAML,
			wantErr: "tierProvider.url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFromReader(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_ValidationErrorsType(t *testing.T) {
	_, err := LoadConfigFromReader(strings.NewReader("listen: \":8080\"\n"))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.HasErrors())
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validConfigYAML), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Services, 2)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("TIERGATE_TEST_HOST", "redis.local")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "set", input: "${TIERGATE_TEST_HOST}", want: "redis.local"},
		{name: "default", input: "${TIERGATE_TEST_UNSET:-fallback}", want: "fallback"},
		{name: "unset no default", input: "x${TIERGATE_TEST_UNSET}y", want: "xy"},
		{name: "escaped", input: "$${TIERGATE_TEST_HOST}", want: "${TIERGATE_TEST_HOST}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, substituteEnvVars(tt.input))
		})
	}
}

func TestSetDefaults_Idempotent(t *testing.T) {
	cfg := &GatewayConfig{Services: []ServiceConfig{{Name: "svc", PathPrefix: "api/svc/"}}}
	cfg.SetDefaults()
	first := cfg.Services[0]
	cfg.SetDefaults()

	assert.Equal(t, first, cfg.Services[0])
	assert.Equal(t, "/api/svc", cfg.Services[0].PathPrefix)
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	assert.Equal(t, "a: b", ValidationErrors{{Path: "a", Message: "b"}}.Error())

	multi := ValidationErrors{{Path: "a", Message: "b"}, {Message: "c"}}
	assert.Contains(t, multi.Error(), "2 validation errors")
	assert.Contains(t, multi.Error(), "2. c")
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, time.Duration(0), d.Duration())

	out, err := Duration(2 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}
