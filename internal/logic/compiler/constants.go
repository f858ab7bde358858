package compiler

const (
	LabelPrefix = "kubedeploy.k8s.skillcoder.com/"

	LabelService         = LabelPrefix + "service"
	LabelInstance        = LabelPrefix + "instance"
	LabelGitSHA          = LabelPrefix + "git_sha"
	LabelConfigSHA       = LabelPrefix + "config_sha"
	LabelPool            = LabelPrefix + "pool"
	LabelPrometheusShard = LabelPrefix + "prometheus_shard"
	LabelManaged         = LabelPrefix + "managed"

	AnnotationRegistrations      = "smartstack_registrations"
	AnnotationRoutableIP         = "kubedeploy.k8s.skillcoder.com/routable_ip"
	AnnotationAutoscaler         = "autoscaling"
	AnnotationIAMRole            = "iam.amazonaws.com/role"
	AnnotationPrometheusPath     = "kubedeploy.k8s.skillcoder.com/prometheus_path"
	AnnotationExternalMetricBase = "signalfx.com.external.metric/"
	AnnotationCustomMetrics      = "signalfx.com.custom.metrics"

	// ClusterSelectorLabel scopes custom pod metrics to one cluster.
	ClusterSelectorLabel = "paasta_cluster"

	SharedSecretService = "_shared"
	SecretNamePrefix    = "kubedeploy"

	SidecarName          = "hacheck"
	sidecarPort          = 6666
	sidecarDrainSeconds  = 31
	defaultPreStopSleep  = 30
	readinessProbeDelay  = 10
	readinessProbePeriod = 10

	GPUResourceName       = "nvidia.com/gpu"
	DefaultStorageClass   = "ebs"
	DefaultNamespace      = "kubedeploy"
	defaultFSGroup        = int64(65534)
	hostnameTopologyKey   = "kubernetes.io/hostname"
	instanceTypeNodeLabel = "node.kubernetes.io/instance-type"

	nameLimitHostPath = 63
	nameLimitDefault  = 253

	percentScale = 100
)

const (
	BounceCrossover  = "crossover"
	BounceBrutal     = "brutal"
	BounceDownThenUp = "downthenup"
)

const (
	DesiredStateStart = "start"
	DesiredStateStop  = "stop"
)

const (
	HealthcheckHTTP  = "http"
	HealthcheckHTTPS = "https"
	HealthcheckTCP   = "tcp"
	HealthcheckCmd   = "cmd"
)

const (
	MetricsProviderCPU     = "cpu"
	MetricsProviderMesos   = "mesos_cpu"
	MetricsProviderHTTP    = "http"
	MetricsProviderUWSGI   = "uwsgi"
	DecisionPolicyBespoke  = "bespoke"
	ForecastMovingAverage  = "moving_average"
	IAMProviderAWS         = "aws"
	scaleDownWindowSeconds = int32(300)
	scaleDownPercent       = int32(30)
	scaleDownPeriodSeconds = int32(60)
)
