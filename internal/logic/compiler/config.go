package compiler

// InstanceConfig is the canonical, merged configuration of one service instance.
// It is produced once by Resolve and never mutated afterwards.
type InstanceConfig struct {
	Service  string `mapstructure:"-"`
	Instance string `mapstructure:"-"`
	Cluster  string `mapstructure:"-"`

	Image string            `mapstructure:"image" validate:"required"`
	Cmd   any               `mapstructure:"cmd"`
	Args  []string          `mapstructure:"args"`
	Env   map[string]string `mapstructure:"env"`

	CPUs        float64 `mapstructure:"cpus" validate:"gt=0"`
	CPUBurstAdd float64 `mapstructure:"cpu_burst_add" validate:"gte=0"`
	Mem         float64 `mapstructure:"mem" validate:"gt=0"`
	Disk        float64 `mapstructure:"disk" validate:"gte=0"`
	GPUs        int     `mapstructure:"gpus" validate:"gte=0"`

	Instances    *int        `mapstructure:"instances"`
	MinInstances *int        `mapstructure:"min_instances"`
	MaxInstances *int        `mapstructure:"max_instances"`
	DesiredState string      `mapstructure:"desired_state" validate:"oneof=start stop"`
	Autoscaling  Autoscaling `mapstructure:"autoscaling"`

	BounceMethod       string             `mapstructure:"bounce_method"`
	BounceMarginFactor float64            `mapstructure:"bounce_margin_factor" validate:"gt=0,lte=1"`
	BounceHealthParams BounceHealthParams `mapstructure:"bounce_health_params"`
	ForceBounce        string             `mapstructure:"force_bounce"`

	DeployWhitelist DeployWhitelist             `mapstructure:"deploy_whitelist"`
	DeployBlacklist []DeployBlacklistEntry      `mapstructure:"deploy_blacklist"`
	NodeSelectors   map[string]NodeSelector     `mapstructure:"node_selectors"`
	AntiAffinity    []map[string]string         `mapstructure:"anti_affinity"`
	Pool            string                      `mapstructure:"pool"`
	SidecarSpecs    map[string]SidecarResources `mapstructure:"sidecar_resource_requirements"`

	ExtraVolumes      []HostPathVolume   `mapstructure:"extra_volumes"`
	AWSEBSVolumes     []EBSVolume        `mapstructure:"aws_ebs_volumes"`
	PersistentVolumes []PersistentVolume `mapstructure:"persistent_volumes"`
	SecretVolumes     []SecretVolume     `mapstructure:"secret_volumes"`

	HealthcheckMode                   string   `mapstructure:"healthcheck_mode"`
	HealthcheckURI                    string   `mapstructure:"healthcheck_uri"`
	HealthcheckCmd                    string   `mapstructure:"healthcheck_cmd"`
	HealthcheckGracePeriodSeconds     int32    `mapstructure:"healthcheck_grace_period_seconds"`
	HealthcheckIntervalSeconds        int32    `mapstructure:"healthcheck_interval_seconds"`
	HealthcheckTimeoutSeconds         int32    `mapstructure:"healthcheck_timeout_seconds"`
	HealthcheckMaxConsecutiveFailures int32    `mapstructure:"healthcheck_max_consecutive_failures"`
	ContainerPort                     int32    `mapstructure:"container_port" validate:"gt=0,lt=65536"`
	Registrations                     []string `mapstructure:"registrations"`
	RoutableIP                        bool     `mapstructure:"routable_ip"`

	Lifecycle Lifecycle `mapstructure:"lifecycle"`
	CapAdd    []string  `mapstructure:"cap_add"`

	IAMRole            string `mapstructure:"iam_role"`
	IAMRoleProvider    string `mapstructure:"iam_role_provider"`
	FSGroup            *int64 `mapstructure:"fs_group"`
	ServiceAccountName string `mapstructure:"service_account_name"`

	PrometheusShard string `mapstructure:"prometheus_shard"`
	PrometheusPath  string `mapstructure:"prometheus_path"`
	PrometheusPort  int32  `mapstructure:"prometheus_port"`
}

// Autoscaling holds the parameters of metric driven scaling.
type Autoscaling struct {
	MetricsProvider            string   `mapstructure:"metrics_provider"`
	DecisionPolicy             string   `mapstructure:"decision_policy"`
	Setpoint                   float64  `mapstructure:"setpoint"`
	ForecastPolicy             string   `mapstructure:"forecast_policy"`
	Offset                     *float64 `mapstructure:"offset"`
	MovingAverageWindowSeconds int      `mapstructure:"moving_average_window_seconds"`
}

type BounceHealthParams struct {
	MinTaskUptime int32 `mapstructure:"min_task_uptime"`
}

// DeployWhitelist restricts placement to nodes whose LocationType label is one of Values.
type DeployWhitelist struct {
	LocationType string   `mapstructure:"location_type"`
	Values       []string `mapstructure:"values"`
}

func (w DeployWhitelist) IsZero() bool {
	return w.LocationType == ""
}

type DeployBlacklistEntry struct {
	LocationType string `mapstructure:"location_type"`
	Value        string `mapstructure:"value"`
}

// NodeSelector is either an exact label value or a list of requirements.
type NodeSelector struct {
	Value        string                `mapstructure:"value"`
	Requirements []SelectorRequirement `mapstructure:"requirements"`
}

type SelectorRequirement struct {
	Operator string   `mapstructure:"operator"`
	Values   []string `mapstructure:"values"`
	Value    string   `mapstructure:"value"`
}

type SidecarResources struct {
	Requests map[string]string `mapstructure:"requests"`
	Limits   map[string]string `mapstructure:"limits"`
}

type Lifecycle struct {
	PreStopCommand                any    `mapstructure:"pre_stop_command"`
	TerminationGracePeriodSeconds *int64 `mapstructure:"termination_grace_period_seconds"`
}

// Volume is one of HostPathVolume, EBSVolume, PersistentVolume or SecretVolume.
type Volume interface {
	isVolume()
}

type HostPathVolume struct {
	ContainerPath string `mapstructure:"containerPath"`
	HostPath      string `mapstructure:"hostPath"`
	Mode          string `mapstructure:"mode"`
}

type EBSVolume struct {
	VolumeID      string `mapstructure:"volume_id"`
	ContainerPath string `mapstructure:"container_path"`
	Mode          string `mapstructure:"mode"`
	FSType        string `mapstructure:"fs_type"`
	Partition     *int32 `mapstructure:"partition"`
}

type PersistentVolume struct {
	ContainerPath    string `mapstructure:"container_path"`
	Size             int    `mapstructure:"size"`
	Mode             string `mapstructure:"mode"`
	StorageClassName string `mapstructure:"storage_class_name"`
}

type SecretVolume struct {
	ContainerPath string             `mapstructure:"container_path"`
	SecretName    string             `mapstructure:"secret_name"`
	DefaultMode   string             `mapstructure:"default_mode"`
	Items         []SecretVolumeItem `mapstructure:"items"`
}

type SecretVolumeItem struct {
	Key  string `mapstructure:"key"`
	Path string `mapstructure:"path"`
	Mode string `mapstructure:"mode"`
}

func (HostPathVolume) isVolume()   {}
func (EBSVolume) isVolume()        {}
func (PersistentVolume) isVolume() {}
func (SecretVolume) isVolume()     {}

// Volumes returns every configured volume in a fixed order:
// host paths, EBS, persistent, secret.
func (c *InstanceConfig) Volumes() []Volume {
	out := make([]Volume, 0,
		len(c.ExtraVolumes)+len(c.AWSEBSVolumes)+len(c.PersistentVolumes)+len(c.SecretVolumes))

	for _, v := range c.ExtraVolumes {
		out = append(out, v)
	}

	for _, v := range c.AWSEBSVolumes {
		out = append(out, v)
	}

	for _, v := range c.PersistentVolumes {
		out = append(out, v)
	}

	for _, v := range c.SecretVolumes {
		out = append(out, v)
	}

	return out
}

// IsAutoscalingEnabled reports whether max_instances is configured.
func (c *InstanceConfig) IsAutoscalingEnabled() bool {
	return c.MaxInstances != nil
}

func (c *InstanceConfig) minInstances() int {
	if c.MinInstances == nil {
		return 1
	}

	return *c.MinInstances
}

func (c *InstanceConfig) maxInstances() int {
	if c.MaxInstances == nil {
		return 0
	}

	return *c.MaxInstances
}

func (c *InstanceConfig) instances() int {
	if c.Instances == nil {
		return 1
	}

	return *c.Instances
}

// SystemConfig is the cluster wide configuration shared by every instance.
type SystemConfig struct {
	Cluster   string `mapstructure:"cluster"`
	Namespace string `mapstructure:"namespace"`

	Volumes []HostPathVolume `mapstructure:"volumes"`

	SidecarImage              string           `mapstructure:"hacheck_sidecar_image_url"`
	SidecarVolumes            []HostPathVolume `mapstructure:"hacheck_sidecar_volumes"`
	EnableNerveReadinessCheck bool             `mapstructure:"enable_nerve_readiness_check"`
	EnableEnvoyReadinessCheck bool             `mapstructure:"enable_envoy_readiness_check"`
	NerveReadinessScript      []string         `mapstructure:"nerve_readiness_check_script"`
	EnvoyReadinessScript      []string         `mapstructure:"envoy_readiness_check_script"`
	EnvoyNerveReadinessScript []string         `mapstructure:"envoy_nerve_readiness_check_script"`

	HPAAlwaysUsesExternal       bool   `mapstructure:"hpa_always_uses_external_metrics"`
	HPABehaviorSupported        bool   `mapstructure:"hpa_behavior_supported"`
	ExternalMetricQueryTemplate string `mapstructure:"external_metric_query_template"`

	SupportedStorageClasses []string `mapstructure:"supported_storage_classes"`
}
