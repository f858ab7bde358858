package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"text/template"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// DefaultExternalMetricQuery computes desired over current capacity so the
// autoscaler can target a fixed value of 1.
const DefaultExternalMetricQuery = `load = data('{{.Provider}}', filter=filter('kubedeploy_service', '{{.Service}}') ` +
	`and filter('kubedeploy_instance', '{{.Instance}}') and filter('kubedeploy_cluster', '{{.Cluster}}'))` +
	`.mean(by=['kubedeploy_cluster']).mean(over='{{.MovingAverageWindowSeconds}}s')
(load / ({{.Setpoint}} - {{.Offset}})).publish()`

const millisPerUnit = 1000

type externalQueryParams struct {
	Provider                   string
	Service                    string
	Instance                   string
	Cluster                    string
	Setpoint                   float64
	Offset                     float64
	MovingAverageWindowSeconds int
}

// ParseExternalMetricQuery parses a query template, falling back to the default one.
func ParseExternalMetricQuery(text string) (*template.Template, error) {
	if text == "" {
		text = DefaultExternalMetricQuery
	}

	tmpl, err := template.New("external-metric").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse external metric query: %w", err)
	}

	return tmpl, nil
}

// Autoscaler builds the HorizontalPodAutoscaler of an instance. It returns
// nil when no policy applies.
func (c *Compiler) Autoscaler(
	ctx context.Context,
	cfg *InstanceConfig,
) (*autoscalingv2.HorizontalPodAutoscaler, error) {
	logger := c.logger.With("service", cfg.Service, "instance", cfg.Instance)

	if cfg.DesiredState == DesiredStateStop || !cfg.IsAutoscalingEnabled() {
		return nil, nil //nolint:nilnil // no policy
	}

	as := cfg.Autoscaling
	if as.DecisionPolicy == DecisionPolicyBespoke {
		return nil, nil //nolint:nilnil // scaling owned by an external controller
	}

	minReplicas, maxReplicas := cfg.minInstances(), cfg.maxInstances()
	if minReplicas == 0 || maxReplicas == 0 {
		logger.ErrorContext(ctx, "skipping autoscaler with zero replica bound",
			"min_instances", minReplicas,
			"max_instances", maxReplicas,
		)

		return nil, nil //nolint:nilnil // no policy
	}

	name := WorkloadName(cfg.Service, cfg.Instance)
	annotations := map[string]string{}

	var metric autoscalingv2.MetricSpec

	switch as.MetricsProvider {
	case MetricsProviderCPU, MetricsProviderMesos:
		metric = autoscalingv2.MetricSpec{
			Type: autoscalingv2.ResourceMetricSourceType,
			Resource: &autoscalingv2.ResourceMetricSource{
				Name: corev1.ResourceCPU,
				Target: autoscalingv2.MetricTarget{
					Type:               autoscalingv2.UtilizationMetricType,
					AverageUtilization: ptr.To(int32(math.Round(as.Setpoint * percentScale))),
				},
			},
		}
	case MetricsProviderHTTP, MetricsProviderUWSGI:
		if c.usesExternalMetric(as) {
			metricName := SanitizeWithLimit(as.MetricsProvider+"-"+name, nameLimitHostPath)

			query, err := c.externalQuery(cfg)
			if err != nil {
				return nil, err
			}

			annotations[AnnotationExternalMetricBase+metricName] = query
			metric = autoscalingv2.MetricSpec{
				Type: autoscalingv2.ExternalMetricSourceType,
				External: &autoscalingv2.ExternalMetricSource{
					Metric: autoscalingv2.MetricIdentifier{Name: metricName},
					Target: autoscalingv2.MetricTarget{
						Type:  autoscalingv2.ValueMetricType,
						Value: resource.NewQuantity(1, resource.DecimalSI),
					},
				},
			}

			break
		}

		metric = autoscalingv2.MetricSpec{
			Type: autoscalingv2.PodsMetricSourceType,
			Pods: &autoscalingv2.PodsMetricSource{
				Metric: autoscalingv2.MetricIdentifier{
					Name: as.MetricsProvider,
					Selector: &metav1.LabelSelector{
						MatchLabels: map[string]string{ClusterSelectorLabel: cfg.Cluster},
					},
				},
				Target: autoscalingv2.MetricTarget{
					Type: autoscalingv2.AverageValueMetricType,
					AverageValue: resource.NewMilliQuantity(
						int64(math.Round(as.Setpoint*millisPerUnit)), resource.DecimalSI,
					),
				},
			},
		}
	default:
		logger.WarnContext(ctx, "unknown metrics provider, skipping autoscaler",
			"metrics_provider", as.MetricsProvider,
		)

		return nil, nil //nolint:nilnil // no policy
	}

	hpa := &autoscalingv2.HorizontalPodAutoscaler{
		TypeMeta: metav1.TypeMeta{APIVersion: "autoscaling/v2", Kind: "HorizontalPodAutoscaler"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.namespace(),
			Labels: map[string]string{
				LabelService:  cfg.Service,
				LabelInstance: cfg.Instance,
				LabelManaged:  "true",
			},
		},
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: "apps/v1",
				Kind:       string(workloadKind(cfg)),
				Name:       name,
			},
			MinReplicas: ptr.To(int32(minReplicas)),
			MaxReplicas: int32(maxReplicas),
			Metrics:     []autoscalingv2.MetricSpec{metric},
			Behavior:    c.behavior(),
		},
	}

	if len(annotations) > 0 {
		hpa.Annotations = annotations
	}

	return hpa, nil
}

func (c *Compiler) usesExternalMetric(as Autoscaling) bool {
	return c.system.HPAAlwaysUsesExternal ||
		as.ForecastPolicy == ForecastMovingAverage ||
		as.Offset != nil
}

func (c *Compiler) externalQuery(cfg *InstanceConfig) (string, error) {
	params := externalQueryParams{
		Provider:                   cfg.Autoscaling.MetricsProvider,
		Service:                    cfg.Service,
		Instance:                   cfg.Instance,
		Cluster:                    cfg.Cluster,
		Setpoint:                   cfg.Autoscaling.Setpoint,
		Offset:                     ptr.Deref(cfg.Autoscaling.Offset, 0),
		MovingAverageWindowSeconds: cfg.Autoscaling.MovingAverageWindowSeconds,
	}

	var buf bytes.Buffer
	if err := c.queryTmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("render external metric query: %w", err)
	}

	return buf.String(), nil
}

func (c *Compiler) behavior() *autoscalingv2.HorizontalPodAutoscalerBehavior {
	if !c.system.HPABehaviorSupported {
		return nil
	}

	selectMax := autoscalingv2.MaxChangePolicySelect

	return &autoscalingv2.HorizontalPodAutoscalerBehavior{
		ScaleDown: &autoscalingv2.HPAScalingRules{
			StabilizationWindowSeconds: ptr.To(scaleDownWindowSeconds),
			SelectPolicy:               &selectMax,
			Policies: []autoscalingv2.HPAScalingPolicy{{
				Type:          autoscalingv2.PercentScalingPolicy,
				Value:         scaleDownPercent,
				PeriodSeconds: scaleDownPeriodSeconds,
			}},
		},
	}
}

// AutoscalingPolicyJSON renders the scaling policy as indented JSON for display.
func AutoscalingPolicyJSON(hpa *autoscalingv2.HorizontalPodAutoscaler) (string, error) {
	if hpa == nil {
		return "", nil
	}

	raw, err := json.MarshalIndent(hpa.Spec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal autoscaling policy: %w", err)
	}

	return string(raw), nil
}
