package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

func TestCompiler_Autoscaler(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, compiler.SystemConfig{HPABehaviorSupported: true})

	noPolicy := []struct {
		name     string
		giveOver map[string]any
	}{
		{name: "autoscaling disabled", giveOver: map[string]any{"instances": 3}},
		{name: "stopped", giveOver: map[string]any{"max_instances": 5, "desired_state": "stop"}},
		{name: "bespoke", giveOver: map[string]any{
			"max_instances": 5,
			"autoscaling":   map[string]any{"decision_policy": "bespoke"},
		}},
		{name: "min zero", giveOver: map[string]any{"min_instances": 0, "max_instances": 5}},
		{name: "max zero", giveOver: map[string]any{"max_instances": 0}},
		{name: "unknown provider", giveOver: map[string]any{
			"max_instances": 5,
			"autoscaling":   map[string]any{"metrics_provider": "tea-leaves"},
		}},
	}

	for _, tt := range noPolicy {
		t.Run(tt.name+" yields no policy", func(t *testing.T) {
			t.Parallel()

			hpa, err := c.Autoscaler(t.Context(), resolve(t, tt.giveOver))
			require.NoError(t, err)
			require.Nil(t, hpa)
		})
	}

	t.Run("cpu utilization", func(t *testing.T) {
		t.Parallel()

		hpa, err := c.Autoscaler(t.Context(), resolve(t, map[string]any{
			"min_instances": 2,
			"max_instances": 10,
			"autoscaling":   map[string]any{"setpoint": 0.7},
		}))
		require.NoError(t, err)
		require.NotNil(t, hpa)

		require.Equal(t, "svc-main", hpa.Name)
		require.Equal(t, int32(2), *hpa.Spec.MinReplicas)
		require.Equal(t, int32(10), hpa.Spec.MaxReplicas)
		require.Equal(t, "Deployment", hpa.Spec.ScaleTargetRef.Kind)
		require.Len(t, hpa.Spec.Metrics, 1)

		metric := hpa.Spec.Metrics[0]
		require.Equal(t, autoscalingv2.ResourceMetricSourceType, metric.Type)
		require.Equal(t, corev1.ResourceCPU, metric.Resource.Name)
		require.Equal(t, int32(70), *metric.Resource.Target.AverageUtilization)
	})

	t.Run("http pods metric scoped by cluster", func(t *testing.T) {
		t.Parallel()

		hpa, err := c.Autoscaler(t.Context(), resolve(t, map[string]any{
			"max_instances": 10,
			"autoscaling":   map[string]any{"metrics_provider": "http", "setpoint": 0.5},
		}))
		require.NoError(t, err)

		metric := hpa.Spec.Metrics[0]
		require.Equal(t, autoscalingv2.PodsMetricSourceType, metric.Type)
		require.Equal(t, "http", metric.Pods.Metric.Name)
		require.Equal(t, map[string]string{compiler.ClusterSelectorLabel: "test-cluster"}, metric.Pods.Metric.Selector.MatchLabels)
		require.Equal(t, "500m", metric.Pods.Target.AverageValue.String())
		require.Empty(t, hpa.Annotations)
	})

	t.Run("offset switches to external metric", func(t *testing.T) {
		t.Parallel()

		hpa, err := c.Autoscaler(t.Context(), resolve(t, map[string]any{
			"max_instances": 10,
			"autoscaling":   map[string]any{"metrics_provider": "uwsgi", "offset": 0.1},
		}))
		require.NoError(t, err)

		metric := hpa.Spec.Metrics[0]
		require.Equal(t, autoscalingv2.ExternalMetricSourceType, metric.Type)
		require.Equal(t, "uwsgi-svc-main", metric.External.Metric.Name)
		require.Equal(t, autoscalingv2.ValueMetricType, metric.External.Target.Type)
		require.Equal(t, "1", metric.External.Target.Value.String())

		query := hpa.Annotations[compiler.AnnotationExternalMetricBase+"uwsgi-svc-main"]
		require.Contains(t, query, "filter('kubedeploy_service', 'svc')")
		require.Contains(t, query, "(0.8 - 0.1)")
		require.Contains(t, query, "over='1800s'")
	})

	t.Run("moving average forecast switches to external metric", func(t *testing.T) {
		t.Parallel()

		hpa, err := c.Autoscaler(t.Context(), resolve(t, map[string]any{
			"max_instances": 10,
			"autoscaling":   map[string]any{"metrics_provider": "http", "forecast_policy": "moving_average"},
		}))
		require.NoError(t, err)
		require.Equal(t, autoscalingv2.ExternalMetricSourceType, hpa.Spec.Metrics[0].Type)
	})

	t.Run("system flag forces external metric", func(t *testing.T) {
		t.Parallel()

		forced := newCompiler(t, compiler.SystemConfig{HPAAlwaysUsesExternal: true})

		hpa, err := forced.Autoscaler(t.Context(), resolve(t, map[string]any{
			"max_instances": 10,
			"autoscaling":   map[string]any{"metrics_provider": "http"},
		}))
		require.NoError(t, err)
		require.Equal(t, autoscalingv2.ExternalMetricSourceType, hpa.Spec.Metrics[0].Type)
		require.Nil(t, hpa.Spec.Behavior)
	})

	t.Run("scale down behavior attached", func(t *testing.T) {
		t.Parallel()

		hpa, err := c.Autoscaler(t.Context(), resolve(t, map[string]any{"max_instances": 3}))
		require.NoError(t, err)

		down := hpa.Spec.Behavior.ScaleDown
		require.Equal(t, int32(300), *down.StabilizationWindowSeconds)
		require.Equal(t, autoscalingv2.MaxChangePolicySelect, *down.SelectPolicy)
		require.Equal(t, []autoscalingv2.HPAScalingPolicy{
			{Type: autoscalingv2.PercentScalingPolicy, Value: 30, PeriodSeconds: 60},
		}, down.Policies)
	})

	t.Run("stateful target kind", func(t *testing.T) {
		t.Parallel()

		hpa, err := c.Autoscaler(t.Context(), resolve(t, map[string]any{
			"min_instances": 1,
			"max_instances": 1,
			"persistent_volumes": []any{
				map[string]any{"container_path": "/data", "size": 10, "mode": "RW"},
			},
		}))
		require.NoError(t, err)
		require.Equal(t, "StatefulSet", hpa.Spec.ScaleTargetRef.Kind)
	})
}

func TestAutoscalingPolicyJSON(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, compiler.SystemConfig{})

	hpa, err := c.Autoscaler(t.Context(), resolve(t, map[string]any{"max_instances": 4}))
	require.NoError(t, err)

	got, err := compiler.AutoscalingPolicyJSON(hpa)
	require.NoError(t, err)
	require.Contains(t, got, `"maxReplicas": 4`)
	require.Contains(t, got, `"averageUtilization": 80`)

	empty, err := compiler.AutoscalingPolicyJSON(nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestParseExternalMetricQuery(t *testing.T) {
	t.Parallel()

	_, err := compiler.ParseExternalMetricQuery("{{.Broken")
	require.Error(t, err)

	_, err = compiler.New(slogDiscard(), compiler.SystemConfig{ExternalMetricQueryTemplate: "{{.Broken"})
	require.Error(t, err)
}
