package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	manifestsCompiledTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubedeploy_manifests_compiled_total",
			Help: "Total number of workload manifests compiled, by workload kind.",
		},
		[]string{"kind"},
	)

	compileFailuresTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubedeploy_compile_failures_total",
			Help: "Total number of instances whose configuration could not be compiled or applied.",
		},
		[]string{"service", "instance"},
	)

	bouncesTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubedeploy_bounces_total",
			Help: "Total number of workload writes, by kind and action (create, replace, recreate).",
		},
		[]string{"kind", "action"},
	)

	cacheRequestsTotal = promauto.With(prometheus.DefaultRegisterer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "kubedeploy_cache_requests_total",
			Help: "Total number of cache lookups, by cache and result (hit, miss).",
		},
		[]string{"cache", "result"},
	)
)

func RecordManifestCompiled(kind string) {
	manifestsCompiledTotal.WithLabelValues(kind).Inc()
}

// RecordCompileFailure increments the counter when an instance fails to
// resolve, compile or apply.
func RecordCompileFailure(service, instance string) {
	compileFailuresTotal.WithLabelValues(service, instance).Inc()
}

func RecordBounce(kind, action string) {
	bouncesTotal.WithLabelValues(kind, action).Inc()
}

func RecordCacheRequest(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	cacheRequestsTotal.WithLabelValues(cache, result).Inc()
}
