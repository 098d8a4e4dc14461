package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorder_New(t *testing.T) {
	rec := NewRecorder("5")
	require.NotNil(t, rec)
	require.Equal(t, "5", rec.node)
}

func TestRecorder_MethodsDoNotPanicWithMetricsEnabled(t *testing.T) {
	require.NoError(t, Setup(context.Background(), Config{Service: "meshagentd-test", Metrics: true}))
	defer Shutdown(context.Background())

	rec := NewRecorder("test-node")

	rec.Migration()
	rec.Duplication()
	rec.Conflict()
	rec.LedgerBytes(128, true)
	rec.LedgerBytes(64, false)
	rec.SetServiceRunning(true)
	rec.SetServiceGeneration(7)

	obs := rec.CycleLatencyObs()
	require.NotNil(t, obs)
	obs.Observe(0.01)
}

func TestRecorder_MethodsAreNoopsWithMetricsDisabled(t *testing.T) {
	require.NoError(t, Setup(context.Background(), Config{Service: "meshagentd-test", Metrics: false}))
	defer Shutdown(context.Background())

	rec := NewRecorder("test-node")

	rec.Migration()
	rec.Duplication()
	rec.Conflict()
	rec.LedgerBytes(128, true)
	rec.SetServiceRunning(false)
	rec.SetServiceGeneration(0)

	require.Nil(t, rec.CycleLatencyObs())
}
