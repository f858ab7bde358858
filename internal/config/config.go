package config

import (
	"fmt"
	"os"
	"time"
)

const (
	SecretBackendKubernetes = "kubernetes"
	SecretBackendAWS        = "aws"
)

type Config struct {
	KubeConfig string
	KubeMaster string
	LogLevel   string
	LogFormat  string

	HTTPPort    string
	MetricsPort string

	Cluster          string
	Namespace        string
	SOADir           string
	SystemConfigPath string

	Interval          time.Duration
	ReconcileSchedule string
	ReconcileTZ       string
	PingerInterval    time.Duration
	CacheTTL          time.Duration
	ObserveTimeout    time.Duration
	TerminationFile   string

	SecretBackend string
	AWSRegion     string
	AWSEndpoint   string
}

func Load() (*Config, error) {
	cfg := &Config{
		KubeConfig:        getEnvWithFallback(envKeyKubeConfig, envKeyKubeConfigFallback),
		KubeMaster:        getEnvWithFallback(envKeyKubeMaster, envKeyKubeMasterFallback),
		LogLevel:          getEnvOrDefault(envKeyLogLevel, "info"),
		LogFormat:         getEnvOrDefault(envKeyLogFormat, "json"),
		HTTPPort:          getEnvOrDefault(envKeyHTTPPort, "8080"),
		MetricsPort:       getEnvOrDefault(envKeyMetricsPort, "9090"),
		Cluster:           os.Getenv(envKeyCluster),
		Namespace:         getEnvOrDefault(envKeyNamespace, "kubedeploy"),
		SOADir:            getEnvOrDefault(envKeySOADir, "/nail/etc/services"),
		SystemConfigPath:  os.Getenv(envKeySystemConfig),
		ReconcileSchedule: os.Getenv(envKeyReconcileSchedule),
		ReconcileTZ:       os.Getenv(envKeyReconcileScheduleTZ),
		TerminationFile:   getEnvOrDefault(envKeyTerminationFile, "/mnt/signal/terminating"),
		SecretBackend:     getEnvOrDefault(envKeySecretBackend, SecretBackendKubernetes),
		AWSRegion:         os.Getenv(envKeyAWSRegion),
		AWSEndpoint:       os.Getenv(envKeyAWSEndpoint),
	}

	if cfg.Cluster == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingValue, envKeyCluster)
	}

	switch cfg.SecretBackend {
	case SecretBackendKubernetes:
	case SecretBackendAWS:
		if cfg.AWSRegion == "" {
			return nil, fmt.Errorf("%w: %s is required by the aws secret backend", ErrMissingValue, envKeyAWSRegion)
		}
	default:
		return nil, fmt.Errorf("%w: %s=%q", ErrInvalidValue, envKeySecretBackend, cfg.SecretBackend)
	}

	durations := []struct {
		key      string
		fallback string
		min      time.Duration
		dst      *time.Duration
	}{
		{key: envKeyInterval, fallback: "300s", min: envMinInterval, dst: &cfg.Interval},
		{key: envKeyPingerInterval, fallback: "10s", min: envMinPingerInterval, dst: &cfg.PingerInterval},
		{key: envKeyCacheTTL, fallback: "5s", min: envMinCacheTTL, dst: &cfg.CacheTTL},
		{key: envKeyObserveTimeout, fallback: "10s", min: envMinObserveTimeout, dst: &cfg.ObserveTimeout},
	}

	for _, d := range durations {
		value, err := parseDuration(d.key, getEnvOrDefault(d.key, d.fallback), d.min)
		if err != nil {
			return nil, err
		}

		*d.dst = value
	}

	return cfg, nil
}

func parseDuration(key, raw string, minimum time.Duration) (time.Duration, error) {
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}

	if value < minimum {
		return 0, fmt.Errorf("%w: %s=%s, minimum %s", ErrBelowMinimum, key, value, minimum)
	}

	return value, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

func getEnvWithFallback(key, fallbackKey string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return os.Getenv(fallbackKey)
}
