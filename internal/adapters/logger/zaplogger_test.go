package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"Warn", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestZapLoggerWritesFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))
	ctx := context.Background()

	l.Debug(ctx, "debug msg")
	l.Info(ctx, "position opened", map[string]interface{}{"pool": "ETHUSDC", "capital": "1000.00"})
	l.Warn(ctx, "skipping accrual")
	l.Error(ctx, errors.New("rpc down"), "open failed", map[string]interface{}{"pool": "ETHUSDC"})

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "position opened", entries[1].Message)
	ctxMap := entries[1].ContextMap()
	assert.Equal(t, "ETHUSDC", ctxMap["pool"])
	assert.Equal(t, "1000.00", ctxMap["capital"])

	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)

	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "rpc down", entries[3].ContextMap()["error"])
}

func TestZapLoggerRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	l := NewFromZap(zap.New(core))

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")

	assert.Equal(t, 1, logs.Len())
}

func TestZapLoggerWith(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewFromZap(zap.New(core)).With(map[string]interface{}{"pool": "WBTCUSDC"})

	l.Info(context.Background(), "hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "WBTCUSDC", logs.All()[0].ContextMap()["pool"])
}

func TestNewZapLogger(t *testing.T) {
	l, err := NewZapLogger(LevelDebug)
	require.NoError(t, err)
	require.NotNil(t, l)
	l.Info(context.Background(), "ready")
}
