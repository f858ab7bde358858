package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skillcoder/kubedeploy/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		giveEnv map[string]string
		wantErr error
		wantCfg *config.Config
	}{
		{
			name:    "all defaults",
			giveEnv: map[string]string{"KUBEDEPLOY_CLUSTER": "norcal-prod"},
			wantCfg: &config.Config{
				LogLevel:        "info",
				LogFormat:       "json",
				HTTPPort:        "8080",
				MetricsPort:     "9090",
				Cluster:         "norcal-prod",
				Namespace:       "kubedeploy",
				SOADir:          "/nail/etc/services",
				Interval:        300 * time.Second,
				PingerInterval:  10 * time.Second,
				CacheTTL:        5 * time.Second,
				ObserveTimeout:  10 * time.Second,
				TerminationFile: "/mnt/signal/terminating",
				SecretBackend:   config.SecretBackendKubernetes,
			},
		},
		{
			name: "overrides with explicit units",
			giveEnv: map[string]string{
				"KUBEDEPLOY_CLUSTER":            "norcal-prod",
				"KUBEDEPLOY_NAMESPACE":          "paasta",
				"KUBEDEPLOY_HTTP_PORT":          "8081",
				"KUBEDEPLOY_INTERVAL":           "5m",
				"KUBEDEPLOY_CACHE_TTL":          "2s",
				"KUBEDEPLOY_OBSERVE_TIMEOUT":    "1m",
				"KUBEDEPLOY_RECONCILE_SCHEDULE": "*/10 * * * *",
				"KUBEDEPLOY_SECRET_BACKEND":     "aws",
				"KUBEDEPLOY_AWS_REGION":         "us-west-2",
			},
			wantCfg: &config.Config{
				LogLevel:          "info",
				LogFormat:         "json",
				HTTPPort:          "8081",
				MetricsPort:       "9090",
				Cluster:           "norcal-prod",
				Namespace:         "paasta",
				SOADir:            "/nail/etc/services",
				Interval:          5 * time.Minute,
				ReconcileSchedule: "*/10 * * * *",
				PingerInterval:    10 * time.Second,
				CacheTTL:          2 * time.Second,
				ObserveTimeout:    time.Minute,
				TerminationFile:   "/mnt/signal/terminating",
				SecretBackend:     config.SecretBackendAWS,
				AWSRegion:         "us-west-2",
			},
		},
		{
			name:    "missing cluster",
			giveEnv: map[string]string{},
			wantErr: config.ErrMissingValue,
		},
		{
			name: "interval below minimum",
			giveEnv: map[string]string{
				"KUBEDEPLOY_CLUSTER":  "norcal-prod",
				"KUBEDEPLOY_INTERVAL": "10s",
			},
			wantErr: config.ErrBelowMinimum,
		},
		{
			name: "cache ttl below minimum",
			giveEnv: map[string]string{
				"KUBEDEPLOY_CLUSTER":   "norcal-prod",
				"KUBEDEPLOY_CACHE_TTL": "500ms",
			},
			wantErr: config.ErrBelowMinimum,
		},
		{
			name: "unknown secret backend",
			giveEnv: map[string]string{
				"KUBEDEPLOY_CLUSTER":        "norcal-prod",
				"KUBEDEPLOY_SECRET_BACKEND": "vault",
			},
			wantErr: config.ErrInvalidValue,
		},
		{
			name: "aws backend without region",
			giveEnv: map[string]string{
				"KUBEDEPLOY_CLUSTER":        "norcal-prod",
				"KUBEDEPLOY_SECRET_BACKEND": "aws",
			},
			wantErr: config.ErrMissingValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)

			for k, v := range tt.giveEnv {
				t.Setenv(k, v)
			}

			got, err := config.Load()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.wantCfg, got)
		})
	}

	t.Run("invalid duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("KUBEDEPLOY_CLUSTER", "norcal-prod")
		t.Setenv("KUBEDEPLOY_PINGER_INTERVAL", "not-a-duration")

		_, err := config.Load()
		require.ErrorContains(t, err, "KUBEDEPLOY_PINGER_INTERVAL")
	})

	t.Run("kubeconfig falls back to standard vars", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("KUBEDEPLOY_CLUSTER", "norcal-prod")
		t.Setenv("KUBECONFIG", "/home/me/.kube/config")
		t.Setenv("KUBERNETES_MASTER", "https://k8s.local")
		t.Setenv("KUBEDEPLOY_KUBE_MASTER", "https://override.local")

		got, err := config.Load()
		require.NoError(t, err)
		require.Equal(t, "/home/me/.kube/config", got.KubeConfig)
		require.Equal(t, "https://override.local", got.KubeMaster)
	})
}

func TestLoadSystem(t *testing.T) {
	base := &config.Config{Cluster: "norcal-prod", Namespace: "kubedeploy"}

	t.Run("defaults", func(t *testing.T) {
		got, err := config.LoadSystem(base)
		require.NoError(t, err)

		require.Equal(t, "norcal-prod", got.Cluster)
		require.Equal(t, "kubedeploy", got.Namespace)
		require.True(t, got.EnableNerveReadinessCheck)
		require.False(t, got.EnableEnvoyReadinessCheck)
		require.True(t, got.HPABehaviorSupported)
		require.Equal(t, []string{"/check_smartstack_up.sh"}, got.NerveReadinessScript)
		require.Equal(t, []string{"ebs", "gp2", "gp3"}, got.SupportedStorageClasses)
		require.Empty(t, got.Volumes)
	})

	t.Run("file and env overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "system.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
cluster: ignored
hacheck_sidecar_image_url: registry.example.com/hacheck:v2
hpa_behavior_supported: false
volumes:
  - containerPath: /etc/ssl
    hostPath: /etc/ssl
    mode: RO
`), 0o600))

		t.Setenv("KUBEDEPLOY_SYSTEM_ENABLE_ENVOY_READINESS_CHECK", "true")

		cfg := *base
		cfg.SystemConfigPath = path

		got, err := config.LoadSystem(&cfg)
		require.NoError(t, err)

		require.Equal(t, "norcal-prod", got.Cluster)
		require.Equal(t, "registry.example.com/hacheck:v2", got.SidecarImage)
		require.False(t, got.HPABehaviorSupported)
		require.True(t, got.EnableEnvoyReadinessCheck)
		require.Len(t, got.Volumes, 1)
		require.Equal(t, "/etc/ssl", got.Volumes[0].HostPath)
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := *base
		cfg.SystemConfigPath = filepath.Join(t.TempDir(), "absent.yaml")

		_, err := config.LoadSystem(&cfg)
		require.ErrorIs(t, err, config.ErrReadSystemFile)
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "system.yaml")
		require.NoError(t, os.WriteFile(path, []byte("volumes: [unterminated"), 0o600))

		cfg := *base
		cfg.SystemConfigPath = path

		_, err := config.LoadSystem(&cfg)
		require.ErrorIs(t, err, config.ErrDecodeSystemCfg)
	})
}

func clearEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"KUBEDEPLOY_CLUSTER", "KUBEDEPLOY_NAMESPACE", "KUBEDEPLOY_INTERVAL", "KUBEDEPLOY_SECRET_BACKEND",
		"KUBEDEPLOY_AWS_REGION", "KUBEDEPLOY_KUBECONFIG", "KUBEDEPLOY_KUBE_MASTER", "KUBECONFIG", "KUBERNETES_MASTER",
	} {
		t.Setenv(key, "")
	}
}
