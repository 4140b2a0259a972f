package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	l, err := New(Config{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestWithContextAddsJobFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	ctx := context.WithValue(context.Background(), RunIDKey, "local-run")
	ctx = ContextWithJob(ctx, "corn_yield", "corn_yield_1950_2025")
	WithContext(ctx).Info("fetching")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "local-run", fields["run_id"])
	assert.Equal(t, "corn_yield", fields["dataset"])
	assert.Equal(t, "corn_yield_1950_2025", fields["job"])
}

func TestGetCreatesLoggerLazily(t *testing.T) {
	SetLogger(nil)
	assert.NotNil(t, Get())
}
