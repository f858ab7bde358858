package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/skillcoder/kubedeploy/internal/infra/metrics"
)

func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

	metricLoop:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metricLoop
				}
			}

			return m.GetCounter().GetValue()
		}
	}

	return 0
}

func TestRecordCacheRequest(t *testing.T) {
	t.Parallel()

	metrics.RecordCacheRequest("metrics-test", true)
	metrics.RecordCacheRequest("metrics-test", false)
	metrics.RecordCacheRequest("metrics-test", false)

	require.InDelta(t, 1, counterValue(t, "kubedeploy_cache_requests_total",
		map[string]string{"cache": "metrics-test", "result": "hit"}), 0)
	require.InDelta(t, 2, counterValue(t, "kubedeploy_cache_requests_total",
		map[string]string{"cache": "metrics-test", "result": "miss"}), 0)
}

func TestRecordBounce(t *testing.T) {
	t.Parallel()

	metrics.RecordBounce("MetricsTestKind", "create")

	require.InDelta(t, 1, counterValue(t, "kubedeploy_bounces_total",
		map[string]string{"kind": "MetricsTestKind", "action": "create"}), 0)
}
