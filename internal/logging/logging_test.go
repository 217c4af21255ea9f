package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		level, env string
		enabled    zapcore.Level
		disabled   zapcore.Level
	}{
		{"", "development", zapcore.InfoLevel, zapcore.DebugLevel},
		{"debug", "development", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"WARN", "production", zapcore.WarnLevel, zapcore.InfoLevel},
		{"error", "test", zapcore.ErrorLevel, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level+"/"+tt.env, func(t *testing.T) {
			l, err := New(tt.level, tt.env)
			require.NoError(t, err)
			assert.True(t, l.Core().Enabled(tt.enabled))
			assert.False(t, l.Core().Enabled(tt.disabled))
		})
	}
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New("verbose", "development")
	require.Error(t, err)
}
