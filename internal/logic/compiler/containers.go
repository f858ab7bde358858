package compiler

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/intstr"
)

var secretRefPattern = regexp.MustCompile(`^(SHARED_)?SECRET\(([A-Za-z0-9_-]+)\)$`)

var sidecarDefaultRequests = map[string]string{
	string(corev1.ResourceCPU):              "0.1",
	string(corev1.ResourceMemory):           "1024Mi",
	string(corev1.ResourceEphemeralStorage): "256Mi",
}

// SecretRef identifies one secret of a service.
type SecretRef struct {
	Service string
	Name    string
}

func (r SecretRef) String() string {
	return r.Service + "/" + r.Name
}

// parseSecretRef recognises SECRET(name) and SHARED_SECRET(name) values.
func parseSecretRef(service, value string) (SecretRef, bool) {
	m := secretRefPattern.FindStringSubmatch(value)
	if m == nil {
		return SecretRef{}, false
	}

	if m[1] != "" {
		return SecretRef{Service: SharedSecretService, Name: m[2]}, true
	}

	return SecretRef{Service: service, Name: m[2]}, true
}

// SecretReferences lists every secret an instance consumes, sorted and unique.
func SecretReferences(cfg *InstanceConfig) []SecretRef {
	seen := map[SecretRef]struct{}{}

	for _, value := range cfg.Env {
		if ref, ok := parseSecretRef(cfg.Service, value); ok {
			seen[ref] = struct{}{}
		}
	}

	for _, v := range cfg.SecretVolumes {
		seen[SecretRef{Service: cfg.Service, Name: v.SecretName}] = struct{}{}
	}

	out := slices.Collect(maps.Keys(seen))
	slices.SortFunc(out, func(a, b SecretRef) int {
		return strings.Compare(a.String(), b.String())
	})

	return out
}

// ContainerCommand wraps a string command in a shell and passes a list
// through verbatim.
func ContainerCommand(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{"sh", "-c", v}, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))

		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: non string element %v", ErrInvalidCommand, item)
			}

			out = append(out, s)
		}

		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidCommand, raw)
	}
}

func containerEnv(cfg *InstanceConfig) []corev1.EnvVar {
	plain := map[string]string{}
	secrets := map[string]SecretRef{}

	for name, value := range cfg.Env {
		if ref, ok := parseSecretRef(cfg.Service, value); ok {
			secrets[name] = ref

			continue
		}

		plain[name] = value
	}

	plain["KUBEDEPLOY_SERVICE"] = cfg.Service
	plain["KUBEDEPLOY_INSTANCE"] = cfg.Instance
	plain["KUBEDEPLOY_CLUSTER"] = cfg.Cluster
	plain["KUBEDEPLOY_DOCKER_IMAGE"] = cfg.Image

	env := make([]corev1.EnvVar, 0, len(plain)+len(secrets)+3)

	for _, name := range slices.Sorted(maps.Keys(plain)) {
		env = append(env, corev1.EnvVar{Name: name, Value: plain[name]})
	}

	for _, name := range slices.Sorted(maps.Keys(secrets)) {
		ref := secrets[name]
		env = append(env, corev1.EnvVar{
			Name: name,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{
						Name: SecretResourceName(ref.Service, ref.Name),
					},
					Key: ref.Name,
				},
			},
		})
	}

	return append(env, downwardEnv()...)
}

func downwardEnv() []corev1.EnvVar {
	field := func(name, path string) corev1.EnvVar {
		return corev1.EnvVar{
			Name: name,
			ValueFrom: &corev1.EnvVarSource{
				FieldRef: &corev1.ObjectFieldSelector{FieldPath: path},
			},
		}
	}

	return []corev1.EnvVar{
		field("KUBEDEPLOY_POD_IP", "status.podIP"),
		field("POD_NAME", "metadata.name"),
		field("KUBEDEPLOY_HOST", "spec.nodeName"),
	}
}

func mebibytes(n float64) resource.Quantity {
	return resource.MustParse(strconv.FormatFloat(n, 'f', -1, 64) + "Mi")
}

func cores(n float64) resource.Quantity {
	return *resource.NewMilliQuantity(int64(math.Round(n*millisPerUnit)), resource.DecimalSI)
}

func containerResources(cfg *InstanceConfig) corev1.ResourceRequirements {
	req := corev1.ResourceList{
		corev1.ResourceCPU:              cores(cfg.CPUs),
		corev1.ResourceMemory:           mebibytes(cfg.Mem),
		corev1.ResourceEphemeralStorage: mebibytes(cfg.Disk),
	}

	limits := corev1.ResourceList{
		corev1.ResourceCPU:              cores(cfg.CPUs + cfg.CPUBurstAdd),
		corev1.ResourceMemory:           mebibytes(cfg.Mem),
		corev1.ResourceEphemeralStorage: mebibytes(cfg.Disk),
	}

	if cfg.GPUs > 0 {
		gpus := *resource.NewQuantity(int64(cfg.GPUs), resource.DecimalSI)
		req[GPUResourceName] = gpus
		limits[GPUResourceName] = gpus
	}

	return corev1.ResourceRequirements{Requests: req, Limits: limits}
}

// LivenessProbe picks the probe handler by healthcheck mode. An empty mode
// yields no probe.
func LivenessProbe(cfg *InstanceConfig) (*corev1.Probe, error) {
	var handler corev1.ProbeHandler

	switch cfg.HealthcheckMode {
	case "":
		return nil, nil //nolint:nilnil // no healthcheck configured
	case HealthcheckHTTP, HealthcheckHTTPS:
		handler.HTTPGet = &corev1.HTTPGetAction{
			Path:   cfg.HealthcheckURI,
			Port:   intstr.FromInt32(cfg.ContainerPort),
			Scheme: corev1.URIScheme(strings.ToUpper(cfg.HealthcheckMode)),
		}
	case HealthcheckTCP:
		handler.TCPSocket = &corev1.TCPSocketAction{Port: intstr.FromInt32(cfg.ContainerPort)}
	case HealthcheckCmd:
		handler.Exec = &corev1.ExecAction{Command: []string{"/bin/sh", "-c", cfg.HealthcheckCmd}}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidHealthcheckMode, cfg.HealthcheckMode)
	}

	return &corev1.Probe{
		ProbeHandler:        handler,
		InitialDelaySeconds: cfg.HealthcheckGracePeriodSeconds,
		PeriodSeconds:       cfg.HealthcheckIntervalSeconds,
		TimeoutSeconds:      cfg.HealthcheckTimeoutSeconds,
		FailureThreshold:    cfg.HealthcheckMaxConsecutiveFailures,
	}, nil
}

func preStopHandler(raw any) (*corev1.LifecycleHandler, error) {
	command := []string{"/bin/sh", "-c", fmt.Sprintf("sleep %d", defaultPreStopSleep)}

	switch v := raw.(type) {
	case nil:
	case string:
		command = []string{v}
	default:
		custom, err := ContainerCommand(v)
		if err != nil {
			return nil, fmt.Errorf("pre_stop_command: %w", err)
		}

		command = custom
	}

	return &corev1.LifecycleHandler{Exec: &corev1.ExecAction{Command: command}}, nil
}

func containerPorts(cfg *InstanceConfig) []corev1.ContainerPort {
	ports := []corev1.ContainerPort{{ContainerPort: cfg.ContainerPort}}

	if cfg.PrometheusPort > 0 && cfg.PrometheusPort != cfg.ContainerPort {
		ports = append(ports, corev1.ContainerPort{ContainerPort: cfg.PrometheusPort})
	}

	return ports
}

func (c *Compiler) primaryContainer(cfg *InstanceConfig, mounts []corev1.VolumeMount) (corev1.Container, error) {
	command, err := ContainerCommand(cfg.Cmd)
	if err != nil {
		return corev1.Container{}, err
	}

	liveness, err := LivenessProbe(cfg)
	if err != nil {
		return corev1.Container{}, err
	}

	preStop, err := preStopHandler(cfg.Lifecycle.PreStopCommand)
	if err != nil {
		return corev1.Container{}, err
	}

	container := corev1.Container{
		Name:          WorkloadName(cfg.Service, cfg.Instance),
		Image:         cfg.Image,
		Command:       command,
		Args:          slices.Clone(cfg.Args),
		Env:           containerEnv(cfg),
		Resources:     containerResources(cfg),
		LivenessProbe: liveness,
		Lifecycle:     &corev1.Lifecycle{PreStop: preStop},
		Ports:         containerPorts(cfg),
		VolumeMounts:  mounts,
	}

	if liveness != nil && len(cfg.Registrations) == 0 {
		container.ReadinessProbe = liveness.DeepCopy()
	}

	if len(cfg.CapAdd) > 0 {
		caps := make([]corev1.Capability, 0, len(cfg.CapAdd))
		for _, capName := range cfg.CapAdd {
			caps = append(caps, corev1.Capability(capName))
		}

		container.SecurityContext = &corev1.SecurityContext{
			Capabilities: &corev1.Capabilities{Add: caps},
		}
	}

	return container, nil
}

func (c *Compiler) readinessScript() []string {
	switch {
	case c.system.EnableNerveReadinessCheck && c.system.EnableEnvoyReadinessCheck:
		return c.system.EnvoyNerveReadinessScript
	case c.system.EnableNerveReadinessCheck:
		return c.system.NerveReadinessScript
	case c.system.EnableEnvoyReadinessCheck:
		return c.system.EnvoyReadinessScript
	default:
		return nil
	}
}

// sidecarContainer builds the registration sidecar. It returns nil when the
// instance registers nowhere.
func (c *Compiler) sidecarContainer(cfg *InstanceConfig, mounts []corev1.VolumeMount) (*corev1.Container, error) {
	if len(cfg.Registrations) == 0 || c.system.SidecarImage == "" {
		return nil, nil //nolint:nilnil // no sidecar
	}

	resources, err := sidecarResources(cfg.SidecarSpecs[SidecarName])
	if err != nil {
		return nil, err
	}

	drain := fmt.Sprintf("/usr/bin/hadown %s; sleep %d", strings.Join(cfg.Registrations, " "), sidecarDrainSeconds)

	sidecar := &corev1.Container{
		Name:      SidecarName,
		Image:     c.system.SidecarImage,
		Env:       downwardEnv(),
		Resources: resources,
		Lifecycle: &corev1.Lifecycle{
			PreStop: &corev1.LifecycleHandler{
				Exec: &corev1.ExecAction{Command: []string{"/bin/sh", "-c", drain}},
			},
		},
		Ports:        []corev1.ContainerPort{{ContainerPort: sidecarPort}},
		VolumeMounts: mounts,
	}

	if script := c.readinessScript(); len(script) > 0 {
		command := slices.Clone(script)
		command = append(command, strconv.Itoa(int(cfg.ContainerPort)))
		command = append(command, cfg.Registrations...)

		sidecar.ReadinessProbe = &corev1.Probe{
			ProbeHandler:        corev1.ProbeHandler{Exec: &corev1.ExecAction{Command: command}},
			InitialDelaySeconds: readinessProbeDelay,
			PeriodSeconds:       readinessProbePeriod,
		}
	}

	return sidecar, nil
}

func sidecarResources(spec SidecarResources) (corev1.ResourceRequirements, error) {
	requests := maps.Clone(sidecarDefaultRequests)
	maps.Copy(requests, spec.Requests)

	limits := maps.Clone(requests)
	maps.Copy(limits, spec.Limits)

	req, err := resourceList(requests)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("sidecar requests: %w", err)
	}

	lim, err := resourceList(limits)
	if err != nil {
		return corev1.ResourceRequirements{}, fmt.Errorf("sidecar limits: %w", err)
	}

	return corev1.ResourceRequirements{Requests: req, Limits: lim}, nil
}

func resourceList(in map[string]string) (corev1.ResourceList, error) {
	out := make(corev1.ResourceList, len(in))

	for name, value := range in {
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidResource, name, value)
		}

		out[corev1.ResourceName(name)] = q
	}

	return out, nil
}
