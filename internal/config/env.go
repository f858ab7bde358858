package config

import "time"

// Env key constants. All controller configuration env vars use KUBEDEPLOY_ prefix;
// duration values support explicit units (e.g. 5m, 40s, 2h).

// Path to kubeconfig file. If unset, KUBECONFIG is used as fallback.
const envKeyKubeConfig = "KUBEDEPLOY_KUBECONFIG"

// Kubernetes API server URL. If unset, KUBERNETES_MASTER is used as fallback.
const envKeyKubeMaster = "KUBEDEPLOY_KUBE_MASTER"

// Log level: debug, info, warn, error.
const envKeyLogLevel = "KUBEDEPLOY_LOG_LEVEL"

// Log format: json or text.
const envKeyLogFormat = "KUBEDEPLOY_LOG_FORMAT"

// Port for the API and probe HTTP server.
const envKeyHTTPPort = "KUBEDEPLOY_HTTP_PORT"

// Port for Prometheus metrics (GET /metrics).
const envKeyMetricsPort = "KUBEDEPLOY_METRICS_PORT"

// Name of the cluster this controller deploys to. Required.
const envKeyCluster = "KUBEDEPLOY_CLUSTER"

// Namespace the workloads are written to.
const envKeyNamespace = "KUBEDEPLOY_NAMESPACE"

// Root directory of the service configuration tree.
const envKeySOADir = "KUBEDEPLOY_SOA_DIR"

// Optional path of the cluster-wide system config file (YAML or JSON).
const envKeySystemConfig = "KUBEDEPLOY_SYSTEM_CONFIG"

// Env prefix of the system config overrides, e.g. KUBEDEPLOY_SYSTEM_HACHECK_SIDECAR_IMAGE_URL.
const envPrefixSystem = "KUBEDEPLOY_SYSTEM"

// Reconciliation interval. Units: s, m, h (e.g. 300s, 5m).
const (
	envKeyInterval = "KUBEDEPLOY_INTERVAL"
	envMinInterval = 30 * time.Second
)

// Cron expression for reconciliation runs (e.g. "*/10 * * * *"). Replaces the interval when set.
const envKeyReconcileSchedule = "KUBEDEPLOY_RECONCILE_SCHEDULE"

// IANA time zone of the reconcile schedule (e.g. Europe/Berlin).
const envKeyReconcileScheduleTZ = "KUBEDEPLOY_RECONCILE_SCHEDULE_TZ"

// Pinger check interval. Units: s, m, h (e.g. 10s, 1m).
const (
	envKeyPingerInterval = "KUBEDEPLOY_PINGER_INTERVAL"
	envMinPingerInterval = time.Second
)

// Lifetime of cached pod listings. Units: s, m, h (e.g. 5s).
const (
	envKeyCacheTTL = "KUBEDEPLOY_CACHE_TTL"
	envMinCacheTTL = time.Second
)

// Deadline of every orchestrator call made while observing an instance.
const (
	envKeyObserveTimeout = "KUBEDEPLOY_OBSERVE_TIMEOUT"
	envMinObserveTimeout = time.Second
)

// Secret fingerprint backend: kubernetes or aws.
const envKeySecretBackend = "KUBEDEPLOY_SECRET_BACKEND"

// AWS region and optional endpoint override of the aws secret backend.
const (
	envKeyAWSRegion   = "KUBEDEPLOY_AWS_REGION"
	envKeyAWSEndpoint = "KUBEDEPLOY_AWS_ENDPOINT"
)

// File whose presence makes the controller refuse to start or stop once running.
const envKeyTerminationFile = "KUBEDEPLOY_TERMINATION_FILE"

// Standard k8s env keys used as fallback when KUBEDEPLOY_* are unset.
const (
	envKeyKubeConfigFallback = "KUBECONFIG"
	envKeyKubeMasterFallback = "KUBERNETES_MASTER"
)
