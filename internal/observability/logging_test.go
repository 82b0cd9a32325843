package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{name: "json info", cfg: LogConfig{Level: "info", Format: "json"}},
		{name: "console debug", cfg: LogConfig{Level: "debug", Format: "console", Output: "stderr"}},
		{name: "invalid level", cfg: LogConfig{Level: "loud"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestLogger_WithContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewLoggerFromZap(zap.New(core))

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithTraceID(ctx, "trace-1")

	logger.WithContext(ctx).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "trace-1", fields["trace_id"])
}

func TestLogger_WithContext_Empty(t *testing.T) {
	logger := NopLogger()
	assert.Same(t, logger, logger.WithContext(context.Background()))
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "abc", RequestIDFromContext(ContextWithRequestID(context.Background(), "abc")))
}

func TestTraceIDFromContext(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
	assert.Equal(t, "4bf92f35", TraceIDFromContext(ContextWithTraceID(context.Background(), "4bf92f35")))
}
