package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{
			name: "default config",
			cfg:  DefaultLogConfig(),
		},
		{
			name: "console format",
			cfg:  LogConfig{Level: "debug", Format: "console", Output: "stderr"},
		},
		{
			name:    "invalid level",
			cfg:     LogConfig{Level: "loud"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Debug("debug message")
			logger.Info("info message", String("key", "value"))
			logger.Warn("warn message")
			logger.Error("error message")
		})
	}
}

func TestLoggerWith(t *testing.T) {
	logger, err := NewLogger(DefaultLogConfig())
	require.NoError(t, err)

	child := logger.With(String("component", "test"))
	require.NotNil(t, child)
	child.Info("message with fields")
}

func TestLoggerWithContext_NoSpan(t *testing.T) {
	logger, err := NewLogger(DefaultLogConfig())
	require.NoError(t, err)

	// Context without a span should return the same logger.
	same := logger.WithContext(context.Background())
	assert.Equal(t, logger, same)
}

func TestTraceFields_EmptyContext(t *testing.T) {
	fields := TraceFields(context.Background())
	assert.Empty(t, fields)
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()

	logger.Debug("ignored")
	logger.Info("ignored")
	logger.Warn("ignored")
	logger.Error("ignored")

	assert.Equal(t, logger, logger.With(String("k", "v")))
	assert.Equal(t, logger, logger.WithContext(context.Background()))
	assert.NoError(t, logger.Sync())
}
