package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

const testImage = "registry.local/services-svc:kubedeploy-abc123"

func resolve(t *testing.T, overrides map[string]any) *compiler.InstanceConfig {
	t.Helper()

	cfg, err := compiler.NewResolver().Resolve(
		"svc",
		"main",
		"test-cluster",
		map[string]any{"image": testImage},
		overrides,
	)
	require.NoError(t, err)

	return cfg
}

func TestDeepMerge(t *testing.T) {
	t.Parallel()

	base := map[string]any{
		"cpus": 1,
		"env":  map[string]any{"A": "1", "B": "2"},
		"only": "base",
		"list": []any{"x", "y"},
	}
	override := map[string]any{
		"cpus": 2,
		"env":  map[string]any{"B": "3", "C": "4"},
		"list": []any{"z"},
	}

	got := compiler.DeepMerge(base, override)

	require.Equal(t, map[string]any{
		"cpus": 2,
		"env":  map[string]any{"A": "1", "B": "3", "C": "4"},
		"only": "base",
		"list": []any{"z"},
	}, got)
	require.Equal(t, map[string]any{"A": "1", "B": "2"}, base["env"], "base must not be mutated")
}

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()

		cfg := resolve(t, map[string]any{})

		require.Equal(t, "svc", cfg.Service)
		require.Equal(t, "main", cfg.Instance)
		require.Equal(t, "test-cluster", cfg.Cluster)
		require.InDelta(t, 0.25, cfg.CPUs, 1e-9)
		require.InDelta(t, 1024.0, cfg.Mem, 1e-9)
		require.Equal(t, compiler.BounceCrossover, cfg.BounceMethod)
		require.InDelta(t, 1.0, cfg.BounceMarginFactor, 1e-9)
		require.Equal(t, int32(8888), cfg.ContainerPort)
		require.Equal(t, "default", cfg.Pool)
		require.Equal(t, compiler.DesiredStateStart, cfg.DesiredState)
		require.Equal(t, compiler.MetricsProviderCPU, cfg.Autoscaling.MetricsProvider)
		require.False(t, cfg.IsAutoscalingEnabled())
	})

	t.Run("override wins and nested maps merge", func(t *testing.T) {
		t.Parallel()

		cfg, err := compiler.NewResolver().Resolve("svc", "canary", "c1",
			map[string]any{
				"image": testImage,
				"cpus":  1,
				"env":   map[string]any{"A": "1", "B": "2"},
			},
			map[string]any{
				"cpus": 0.5,
				"env":  map[string]any{"B": "override"},
			},
		)
		require.NoError(t, err)
		require.InDelta(t, 0.5, cfg.CPUs, 1e-9)
		require.Equal(t, map[string]string{"A": "1", "B": "override"}, cfg.Env)
	})

	t.Run("missing image fails", func(t *testing.T) {
		t.Parallel()

		_, err := compiler.NewResolver().Resolve("svc", "main", "c1", map[string]any{}, map[string]any{})
		require.ErrorIs(t, err, compiler.ErrMissingConfiguration)
		require.Contains(t, err.Error(), "Image")
	})

	t.Run("wrong shape fails", func(t *testing.T) {
		t.Parallel()

		_, err := compiler.NewResolver().Resolve("svc", "main", "c1",
			map[string]any{"image": testImage},
			map[string]any{"extra_volumes": "not-a-list"},
		)
		require.ErrorIs(t, err, compiler.ErrInvalidConfigShape)
	})

	t.Run("out of range margin fails", func(t *testing.T) {
		t.Parallel()

		_, err := compiler.NewResolver().Resolve("svc", "main", "c1",
			map[string]any{"image": testImage},
			map[string]any{"bounce_margin_factor": 1.5},
		)
		require.ErrorIs(t, err, compiler.ErrInvalidConfigShape)
	})

	t.Run("placement tuples decoded", func(t *testing.T) {
		t.Parallel()

		cfg := resolve(t, map[string]any{
			"deploy_whitelist": []any{"region", []any{"us-west-1", "us-west-2"}},
			"deploy_blacklist": []any{[]any{"habitat", "uswest1a"}},
			"anti_affinity":    map[string]any{"service": "svc"},
			"node_selectors": map[string]any{
				"instance_type": []any{"c5.xlarge"},
				"ssd":           "true",
			},
		})

		require.Equal(t, compiler.DeployWhitelist{
			LocationType: "region",
			Values:       []string{"us-west-1", "us-west-2"},
		}, cfg.DeployWhitelist)
		require.Equal(t, []compiler.DeployBlacklistEntry{{LocationType: "habitat", Value: "uswest1a"}}, cfg.DeployBlacklist)
		require.Equal(t, []map[string]string{{"service": "svc"}}, cfg.AntiAffinity)
		require.Equal(t, "true", cfg.NodeSelectors["ssd"].Value)
		require.Equal(t, []compiler.SelectorRequirement{
			{Operator: "In", Values: []string{"c5.xlarge"}},
		}, cfg.NodeSelectors["instance_type"].Requirements)
	})

	t.Run("autoscaling bounds decoded", func(t *testing.T) {
		t.Parallel()

		cfg := resolve(t, map[string]any{
			"min_instances": 0,
			"max_instances": 10,
			"autoscaling":   map[string]any{"metrics_provider": "http", "offset": 0.1},
		})

		require.True(t, cfg.IsAutoscalingEnabled())
		require.Equal(t, 0, *cfg.MinInstances)
		require.Equal(t, 10, *cfg.MaxInstances)
		require.Equal(t, "http", cfg.Autoscaling.MetricsProvider)
		require.InDelta(t, 0.1, *cfg.Autoscaling.Offset, 1e-9)
		require.InDelta(t, 0.8, cfg.Autoscaling.Setpoint, 1e-9)
	})
}
