package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_WithEndpoint(t *testing.T) {
	// exporters connect lazily, so Init succeeds without a collector
	shutdown, err := Init(context.Background(), Options{Endpoint: "localhost:4318", Insecure: true, Version: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = shutdown(ctx)
}

func TestMeterAndTracer(t *testing.T) {
	assert.NotNil(t, Meter())
	assert.NotNil(t, Tracer())

	_, span := Tracer().Start(context.Background(), "probe")
	span.End()
}
