package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"text/template"

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
)

// Compiler turns resolved instance configs into orchestrator objects.
// It performs no I/O.
type Compiler struct {
	logger    *slog.Logger
	system    SystemConfig
	queryTmpl *template.Template
}

// Options carries the externally observed inputs of one compilation.
type Options struct {
	// SecretFingerprints maps SecretRef.String() to the secret version.
	SecretFingerprints map[string]string
	// ObservedReplicas is the live replica count of an autoscaled workload.
	ObservedReplicas *int32
}

// Result is the output of Compile.
type Result struct {
	Manifest         *Manifest
	ConfigHash       string
	Autoscaler       *autoscalingv2.HorizontalPodAutoscaler
	DisruptionBudget *policyv1.PodDisruptionBudget
}

func New(logger *slog.Logger, system SystemConfig) (*Compiler, error) {
	tmpl, err := ParseExternalMetricQuery(system.ExternalMetricQueryTemplate)
	if err != nil {
		return nil, err
	}

	return &Compiler{
		logger:    logger.With("component", "compiler"),
		system:    system,
		queryTmpl: tmpl,
	}, nil
}

func (c *Compiler) namespace() string {
	if c.system.Namespace == "" {
		return DefaultNamespace
	}

	return c.system.Namespace
}

func workloadKind(cfg *InstanceConfig) Kind {
	if len(cfg.PersistentVolumes) > 0 {
		return KindStatefulSet
	}

	return KindDeployment
}

// Compile builds the workload manifest, its config hash, its autoscaler
// and its disruption budget. Any failure aborts the whole compilation.
func (c *Compiler) Compile(ctx context.Context, cfg *InstanceConfig, opts Options) (*Result, error) {
	manifest, err := c.compileManifest(ctx, cfg, opts)
	if err != nil {
		return nil, wrapCompilation(cfg, err)
	}

	hash, err := ConfigHash(manifest, opts.SecretFingerprints, cfg.ForceBounce)
	if err != nil {
		return nil, wrapCompilation(cfg, err)
	}

	manifest.SetConfigSHA(hash)

	hpa, err := c.Autoscaler(ctx, cfg)
	if err != nil {
		return nil, wrapCompilation(cfg, err)
	}

	return &Result{
		Manifest:         manifest,
		ConfigHash:       hash,
		Autoscaler:       hpa,
		DisruptionBudget: c.DisruptionBudget(cfg, manifest.Replicas()),
	}, nil
}

// DesiredReplicas returns the replica count to deploy. Workloads with block
// storage are limited to a single replica.
func DesiredReplicas(cfg *InstanceConfig, observed *int32) (int32, error) {
	var n int32

	switch {
	case cfg.DesiredState == DesiredStateStop:
		n = 0
	case cfg.IsAutoscalingEnabled():
		n = int32(cfg.minInstances())
		if observed != nil {
			n = min(max(*observed, int32(cfg.minInstances())), int32(cfg.maxInstances()))
		}
	default:
		n = int32(cfg.instances())
	}

	hasBlockStorage := len(cfg.AWSEBSVolumes) > 0 || len(cfg.PersistentVolumes) > 0
	if hasBlockStorage && n != 0 && n != 1 {
		return 0, fmt.Errorf("%w: %d replicas with attached volumes, only 0 or 1 allowed", ErrInvalidReplicaCount, n)
	}

	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidReplicaCount, n)
	}

	return n, nil
}

func (c *Compiler) compileManifest(ctx context.Context, cfg *InstanceConfig, opts Options) (*Manifest, error) {
	podVols, err := c.buildVolumes(ctx, cfg)
	if err != nil {
		return nil, err
	}

	strategy, err := BounceStrategy(cfg.BounceMethod, cfg.BounceMarginFactor, len(cfg.AWSEBSVolumes) > 0)
	if err != nil {
		return nil, err
	}

	replicas, err := DesiredReplicas(cfg, opts.ObservedReplicas)
	if err != nil {
		return nil, err
	}

	podTmpl, err := c.podTemplate(ctx, cfg, podVols)
	if err != nil {
		return nil, err
	}

	name := WorkloadName(cfg.Service, cfg.Instance)
	meta := metav1.ObjectMeta{
		Name:      name,
		Namespace: c.namespace(),
		Labels:    workloadLabels(cfg),
	}
	selector := &metav1.LabelSelector{
		MatchLabels: map[string]string{
			LabelService:  cfg.Service,
			LabelInstance: cfg.Instance,
		},
	}

	if workloadKind(cfg) == KindStatefulSet {
		return &Manifest{StatefulSet: &appsv1.StatefulSet{
			TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: string(KindStatefulSet)},
			ObjectMeta: meta,
			Spec: appsv1.StatefulSetSpec{
				ServiceName:          name,
				Replicas:             ptr.To(replicas),
				Selector:             selector,
				Template:             *podTmpl,
				VolumeClaimTemplates: podVols.claims,
				PodManagementPolicy:  appsv1.OrderedReadyPodManagement,
				UpdateStrategy: appsv1.StatefulSetUpdateStrategy{
					Type: appsv1.RollingUpdateStatefulSetStrategyType,
				},
			},
		}}, nil
	}

	return &Manifest{Deployment: &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: string(KindDeployment)},
		ObjectMeta: meta,
		Spec: appsv1.DeploymentSpec{
			Replicas:             ptr.To(replicas),
			Selector:             selector,
			Template:             *podTmpl,
			Strategy:             strategy,
			RevisionHistoryLimit: ptr.To(int32(0)),
			MinReadySeconds:      cfg.BounceHealthParams.MinTaskUptime,
		},
	}}, nil
}

func workloadLabels(cfg *InstanceConfig) map[string]string {
	labels := map[string]string{
		LabelService:  cfg.Service,
		LabelInstance: cfg.Instance,
		LabelManaged:  "true",
	}

	if sha := GitSHA(cfg.Image); sha != "" {
		labels[LabelGitSHA] = sha
	}

	return labels
}

// GitSHA extracts the commit from an image tag such as "svc:kubedeploy-1a2b3c".
func GitSHA(image string) string {
	last := image[strings.LastIndex(image, "/")+1:]

	idx := strings.LastIndex(last, ":")
	if idx < 0 {
		return ""
	}

	tag := last[idx+1:]

	return tag[strings.LastIndex(tag, "-")+1:]
}

func (c *Compiler) podTemplate(
	ctx context.Context,
	cfg *InstanceConfig,
	podVols *podVolumes,
) (*corev1.PodTemplateSpec, error) {
	primary, err := c.primaryContainer(cfg, podVols.mounts)
	if err != nil {
		return nil, err
	}

	containers := []corev1.Container{primary}

	sidecarMounts := make([]corev1.VolumeMount, 0, len(c.system.SidecarVolumes))
	for _, v := range c.system.SidecarVolumes {
		sidecarMounts = append(sidecarMounts, corev1.VolumeMount{
			Name:      hostPathVolumeName(v),
			MountPath: v.ContainerPath,
			ReadOnly:  v.Mode == volumeModeReadOnly,
		})
	}

	sidecar, err := c.sidecarContainer(cfg, sidecarMounts)
	if err != nil {
		return nil, err
	}

	if sidecar != nil {
		containers = append(containers, *sidecar)

		for _, v := range c.system.SidecarVolumes {
			podVols.addVolume(corev1.Volume{
				Name:         hostPathVolumeName(v),
				VolumeSource: corev1.VolumeSource{HostPath: &corev1.HostPathVolumeSource{Path: v.HostPath}},
			})
		}
	}

	affinity, err := c.affinity(ctx, cfg)
	if err != nil {
		return nil, err
	}

	annotations, err := podAnnotations(cfg)
	if err != nil {
		return nil, err
	}

	labels := workloadLabels(cfg)
	if cfg.PrometheusShard != "" {
		labels[LabelPrometheusShard] = cfg.PrometheusShard
	}

	volumes := podVols.volumes
	if volumes == nil {
		volumes = []corev1.Volume{}
	}

	spec := corev1.PodSpec{
		Containers:                    containers,
		Volumes:                       volumes,
		Affinity:                      affinity,
		NodeSelector:                  NodeSelectorLabels(cfg),
		RestartPolicy:                 corev1.RestartPolicyAlways,
		DNSPolicy:                     corev1.DNSClusterFirst,
		TerminationGracePeriodSeconds: cfg.Lifecycle.TerminationGracePeriodSeconds,
		ServiceAccountName:            cfg.ServiceAccountName,
	}

	if cfg.IAMRole != "" && cfg.IAMRoleProvider == IAMProviderAWS {
		spec.ServiceAccountName = ServiceAccountForRole(cfg.IAMRole)
		spec.SecurityContext = &corev1.PodSecurityContext{
			FSGroup: ptr.To(ptr.Deref(cfg.FSGroup, defaultFSGroup)),
		}
	} else if cfg.FSGroup != nil {
		spec.SecurityContext = &corev1.PodSecurityContext{FSGroup: ptr.To(*cfg.FSGroup)}
	}

	return &corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{
			Labels:      labels,
			Annotations: annotations,
		},
		Spec: spec,
	}, nil
}

func podAnnotations(cfg *InstanceConfig) (map[string]string, error) {
	registrations := cfg.Registrations
	if registrations == nil {
		registrations = []string{}
	}

	raw, err := json.Marshal(registrations)
	if err != nil {
		return nil, fmt.Errorf("marshal registrations: %w", err)
	}

	annotations := map[string]string{
		AnnotationRegistrations: string(raw),
		AnnotationRoutableIP:    strconv.FormatBool(cfg.RoutableIP),
	}

	provider := cfg.Autoscaling.MetricsProvider
	if cfg.IsAutoscalingEnabled() && (provider == MetricsProviderHTTP || provider == MetricsProviderUWSGI) {
		annotations[AnnotationAutoscaler] = provider
	}

	if cfg.IAMRole != "" && cfg.IAMRoleProvider != IAMProviderAWS {
		annotations[AnnotationIAMRole] = cfg.IAMRole
	}

	if cfg.PrometheusPath != "" {
		annotations[AnnotationPrometheusPath] = cfg.PrometheusPath
	}

	return annotations, nil
}

// DisruptionBudget limits voluntary evictions to what the bounce margin allows.
func (c *Compiler) DisruptionBudget(cfg *InstanceConfig, replicas int32) *policyv1.PodDisruptionBudget {
	maxUnavailable := MaxUnavailable(replicas, cfg.BounceMarginFactor)

	return &policyv1.PodDisruptionBudget{
		TypeMeta: metav1.TypeMeta{APIVersion: "policy/v1", Kind: "PodDisruptionBudget"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      WorkloadName(cfg.Service, cfg.Instance),
			Namespace: c.namespace(),
			Labels: map[string]string{
				LabelService:  cfg.Service,
				LabelInstance: cfg.Instance,
				LabelManaged:  "true",
			},
		},
		Spec: policyv1.PodDisruptionBudgetSpec{
			MaxUnavailable: ptr.To(intstr.FromInt32(maxUnavailable)),
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{
					LabelService:  cfg.Service,
					LabelInstance: cfg.Instance,
				},
			},
		},
	}
}

// MaxUnavailable is max(n - ceil(n*margin), 1), or 0 for an empty workload.
func MaxUnavailable(replicas int32, marginFactor float64) int32 {
	if replicas == 0 {
		return 0
	}

	keep := int32(math.Ceil(float64(replicas) * marginFactor))

	return max(replicas-keep, 1)
}
