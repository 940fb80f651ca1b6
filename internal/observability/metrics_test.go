package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.AggregationPasses.WithLabelValues("applied").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.AggregationPasses.WithLabelValues("applied")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.AggregationPasses.WithLabelValues("applied")))
}

func TestMetrics_RegisterOnFreshRegistry(t *testing.T) {
	m := NewMetricsForTesting()
	reg := prometheus.NewRegistry()

	for _, c := range m.collectors() {
		require.NoError(t, reg.Register(c))
	}

	m.QueueActions.WithLabelValues("skip").Inc()
	m.SeenMarks.Inc()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pulsemap_queue_actions_total"])
	assert.True(t, names["pulsemap_seen_marks_total"])
}
