package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

// System config keys, matching the mapstructure tags of compiler.SystemConfig.
const (
	keySidecarImage              = "hacheck_sidecar_image_url"
	keyEnableNerveReadiness      = "enable_nerve_readiness_check"
	keyEnableEnvoyReadiness      = "enable_envoy_readiness_check"
	keyNerveReadinessScript      = "nerve_readiness_check_script"
	keyEnvoyReadinessScript      = "envoy_readiness_check_script"
	keyEnvoyNerveReadinessScript = "envoy_nerve_readiness_check_script"
	keyHPAAlwaysUsesExternal     = "hpa_always_uses_external_metrics"
	keyHPABehaviorSupported      = "hpa_behavior_supported"
	keyExternalMetricQuery       = "external_metric_query_template"
	keySupportedStorageClasses   = "supported_storage_classes"
	keyVolumes                   = "volumes"
	keySidecarVolumes            = "hacheck_sidecar_volumes"
)

// LoadSystem reads the cluster-wide system config from path (optional) and
// KUBEDEPLOY_SYSTEM_* env overrides. Cluster and namespace always come from cfg.
func LoadSystem(cfg *Config) (compiler.SystemConfig, error) {
	v := viper.New()

	v.SetDefault(keySidecarImage, "registry.local/hacheck-sidecar:latest")
	v.SetDefault(keyEnableNerveReadiness, true)
	v.SetDefault(keyEnableEnvoyReadiness, false)
	v.SetDefault(keyNerveReadinessScript, []string{"/check_smartstack_up.sh"})
	v.SetDefault(keyEnvoyReadinessScript, []string{"/check_proxy_up.sh", "--enable-envoy", "--envoy-check-mode", "eds-dir"})
	v.SetDefault(keyEnvoyNerveReadinessScript, []string{"/check_proxy_up.sh", "--enable-smartstack", "--enable-envoy"})
	v.SetDefault(keyHPAAlwaysUsesExternal, false)
	v.SetDefault(keyHPABehaviorSupported, true)
	v.SetDefault(keyExternalMetricQuery, "")
	v.SetDefault(keySupportedStorageClasses, []string{"ebs", "gp2", "gp3"})
	v.SetDefault(keyVolumes, []map[string]any{})
	v.SetDefault(keySidecarVolumes, []map[string]any{})

	if cfg.SystemConfigPath != "" {
		v.SetConfigFile(cfg.SystemConfigPath)

		if err := v.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return compiler.SystemConfig{}, fmt.Errorf("%w: %w", ErrDecodeSystemCfg, err)
			}

			return compiler.SystemConfig{}, fmt.Errorf("%w: %s: %w", ErrReadSystemFile, cfg.SystemConfigPath, err)
		}
	}

	v.SetEnvPrefix(envPrefixSystem)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var system compiler.SystemConfig
	if err := v.Unmarshal(&system); err != nil {
		return compiler.SystemConfig{}, fmt.Errorf("%w: %w", ErrDecodeSystemCfg, err)
	}

	system.Cluster = cfg.Cluster
	system.Namespace = cfg.Namespace

	return system, nil
}
