package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerObservesHistogramAndVecChild(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)

	timer.ObserveDuration(ReconciliationDuration)
	timer.ObserveDuration(ProbeDuration.WithLabelValues("lifecycle"))

	assert.Equal(t, 1, sampleCount(t, ReconciliationDuration))
	assert.Equal(t, 1, sampleCount(t, ProbeDuration.WithLabelValues("lifecycle")))
}

func TestInitAppliesNamespace(t *testing.T) {
	Init("fstest")
	t.Cleanup(func() { build("flocksync") })

	LifecycleEventsTotal.WithLabelValues("LAUNCHING", "CONTINUE").Inc()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "fstest_lifecycle_events_total")
}

func sampleCount(t *testing.T, o prometheus.Observer) int {
	t.Helper()
	m, ok := o.(prometheus.Metric)
	require.True(t, ok)

	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return int(out.GetHistogram().GetSampleCount())
}
