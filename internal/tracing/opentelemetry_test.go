package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracingManager_Disabled(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = false

	tm := NewTracingManager(cfg, logrus.New())
	require.NoError(t, tm.Initialize(context.Background()))
	assert.NoError(t, tm.Shutdown(context.Background()))
}

func TestTracingManager_StdoutExporter(t *testing.T) {
	cfg := DefaultTracingConfig()
	cfg.Enabled = true
	cfg.UseStdout = true
	cfg.SampleRate = 1

	tm := NewTracingManager(cfg, logrus.New())
	require.NoError(t, tm.Initialize(context.Background()))
	defer tm.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test.span")
	defer span.End()

	assert.NotEmpty(t, GetOtelTraceID(ctx))
	RecordError(ctx, errors.New("boom"))
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", GetOtelTraceID(ctx))
	AddSpanAttributes(ctx)
	RecordError(ctx, errors.New("ignored"))
}
