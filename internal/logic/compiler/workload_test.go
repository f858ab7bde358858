package compiler_test

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/utils/ptr"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

func slogDiscard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testSystem() compiler.SystemConfig {
	return compiler.SystemConfig{
		Cluster:                   "test-cluster",
		Namespace:                 "kubedeploy",
		SidecarImage:              "registry.local/hacheck:latest",
		EnableNerveReadinessCheck: true,
		NerveReadinessScript:      []string{"/check_smartstack_up.sh"},
		HPABehaviorSupported:      true,
		SupportedStorageClasses:   []string{"ebs", "gp3"},
		Volumes: []compiler.HostPathVolume{
			{ContainerPath: "/etc/ssl", HostPath: "/etc/ssl", Mode: "RO"},
		},
	}
}

func requireQuantity(t *testing.T, want string, got resource.Quantity) {
	t.Helper()

	require.True(t, resource.MustParse(want).Equal(got), "want %s, got %s", want, got.String())
}

func findContainer(t *testing.T, spec corev1.PodSpec, name string) corev1.Container {
	t.Helper()

	for _, c := range spec.Containers {
		if c.Name == name {
			return c
		}
	}

	require.FailNow(t, "container not found", name)

	return corev1.Container{}
}

func envByName(env []corev1.EnvVar) map[string]corev1.EnvVar {
	out := make(map[string]corev1.EnvVar, len(env))
	for _, e := range env {
		out[e.Name] = e
	}

	return out
}

func TestCompile_Deterministic(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, testSystem())
	over := map[string]any{
		"env":           map[string]any{"B": "2", "A": "1", "TOKEN": "SECRET(token)"},
		"registrations": []any{"svc.main"},
		"node_selectors": map[string]any{
			"zone": []any{"a", "b"},
			"arch": []any{map[string]any{"operator": "Exists"}},
		},
	}

	first := compile(t, c, resolve(t, over))
	second := compile(t, c, resolve(t, over))

	a, err := json.Marshal(first.Manifest.Object())
	require.NoError(t, err)

	b, err := json.Marshal(second.Manifest.Object())
	require.NoError(t, err)

	require.Equal(t, string(a), string(b))
	require.Equal(t, first.ConfigHash, second.ConfigHash)
}

func TestCompile_Deployment(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, testSystem())
	res := compile(t, c, resolve(t, map[string]any{
		"cmd":                  "python -m svc",
		"instances":            3,
		"cpus":                 0.5,
		"mem":                  512,
		"disk":                 2048,
		"gpus":                 1,
		"healthcheck_mode":     "http",
		"registrations":        []any{"svc.main"},
		"cap_add":              []any{"NET_ADMIN"},
		"prometheus_port":      9100,
		"bounce_health_params": map[string]any{"min_task_uptime": 15},
		"env": map[string]any{
			"PLAIN":  "value",
			"TOKEN":  "SECRET(token)",
			"SHARED": "SHARED_SECRET(common)",
		},
	}))

	require.Equal(t, compiler.KindDeployment, res.Manifest.Kind())

	dep := res.Manifest.Deployment
	require.Equal(t, "svc-main", dep.Name)
	require.Equal(t, "kubedeploy", dep.Namespace)
	require.Equal(t, int32(3), *dep.Spec.Replicas)
	require.Equal(t, int32(0), *dep.Spec.RevisionHistoryLimit)
	require.Equal(t, int32(15), dep.Spec.MinReadySeconds)
	require.Equal(t, "abc123", dep.Labels[compiler.LabelGitSHA])
	require.Equal(t, res.ConfigHash, dep.Labels[compiler.LabelConfigSHA])
	require.Equal(t, res.ConfigHash, dep.Spec.Template.Labels[compiler.LabelConfigSHA])
	require.Equal(t, map[string]string{
		compiler.LabelService:  "svc",
		compiler.LabelInstance: "main",
	}, dep.Spec.Selector.MatchLabels)

	spec := dep.Spec.Template.Spec
	require.Len(t, spec.Containers, 2)
	require.Equal(t, "svc-main", spec.Containers[0].Name, "primary container comes first")

	primary := findContainer(t, spec, "svc-main")
	require.Equal(t, []string{"sh", "-c", "python -m svc"}, primary.Command)
	requireQuantity(t, "500m", primary.Resources.Requests[corev1.ResourceCPU])
	requireQuantity(t, "1500m", primary.Resources.Limits[corev1.ResourceCPU])
	requireQuantity(t, "512Mi", primary.Resources.Limits[corev1.ResourceMemory])
	requireQuantity(t, "2048Mi", primary.Resources.Requests[corev1.ResourceEphemeralStorage])
	requireQuantity(t, "1", primary.Resources.Limits[compiler.GPUResourceName])
	requireQuantity(t, "1", primary.Resources.Requests[compiler.GPUResourceName])
	require.Equal(t, []corev1.ContainerPort{{ContainerPort: 8888}, {ContainerPort: 9100}}, primary.Ports)
	require.Equal(t, []corev1.Capability{"NET_ADMIN"}, primary.SecurityContext.Capabilities.Add)

	require.NotNil(t, primary.LivenessProbe.HTTPGet)
	require.Equal(t, corev1.URISchemeHTTP, primary.LivenessProbe.HTTPGet.Scheme)
	require.Equal(t, "/status", primary.LivenessProbe.HTTPGet.Path)
	require.Nil(t, primary.ReadinessProbe, "registered instances are gated by the sidecar")

	require.Equal(t, []string{"/bin/sh", "-c", "sleep 30"}, primary.Lifecycle.PreStop.Exec.Command)

	env := envByName(primary.Env)
	require.Equal(t, "value", env["PLAIN"].Value)
	require.Equal(t, "svc", env["KUBEDEPLOY_SERVICE"].Value)
	require.Equal(t, "kubedeploy-secret-svc-token", env["TOKEN"].ValueFrom.SecretKeyRef.Name)
	require.Equal(t, "token", env["TOKEN"].ValueFrom.SecretKeyRef.Key)
	require.Equal(t, "kubedeploy-secret-underscore-shared-common", env["SHARED"].ValueFrom.SecretKeyRef.Name)
	require.Equal(t, "status.podIP", env["KUBEDEPLOY_POD_IP"].ValueFrom.FieldRef.FieldPath)

	sidecar := findContainer(t, spec, compiler.SidecarName)
	require.Equal(t, "registry.local/hacheck:latest", sidecar.Image)
	require.Equal(t, []corev1.ContainerPort{{ContainerPort: 6666}}, sidecar.Ports)
	require.Equal(t,
		[]string{"/bin/sh", "-c", "/usr/bin/hadown svc.main; sleep 31"},
		sidecar.Lifecycle.PreStop.Exec.Command,
	)
	require.Equal(t,
		[]string{"/check_smartstack_up.sh", "8888", "svc.main"},
		sidecar.ReadinessProbe.Exec.Command,
	)
	require.Equal(t, int32(10), sidecar.ReadinessProbe.InitialDelaySeconds)
	requireQuantity(t, "0.1", sidecar.Resources.Requests[corev1.ResourceCPU])
	requireQuantity(t, "1024Mi", sidecar.Resources.Limits[corev1.ResourceMemory])

	require.Equal(t, `["svc.main"]`, dep.Spec.Template.Annotations[compiler.AnnotationRegistrations])
}

func TestCompile_Command(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, compiler.SystemConfig{})

	res := compile(t, c, resolve(t, map[string]any{"cmd": []any{"/bin/app", "--serve"}}))
	require.Equal(t, []string{"/bin/app", "--serve"}, res.Manifest.PodTemplate().Spec.Containers[0].Command)

	_, err := c.Compile(t.Context(), resolve(t, map[string]any{"cmd": 42}), compiler.Options{})
	require.ErrorIs(t, err, compiler.ErrInvalidCommand)

	var compileErr *compiler.ManifestCompilationError
	require.ErrorAs(t, err, &compileErr)
}

func TestCompile_Healthchecks(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, compiler.SystemConfig{})

	t.Run("https", func(t *testing.T) {
		t.Parallel()

		res := compile(t, c, resolve(t, map[string]any{"healthcheck_mode": "https"}))
		probe := res.Manifest.PodTemplate().Spec.Containers[0].LivenessProbe
		require.Equal(t, corev1.URISchemeHTTPS, probe.HTTPGet.Scheme)
		require.Equal(t, int32(60), probe.InitialDelaySeconds)
		require.Equal(t, int32(30), probe.FailureThreshold)
	})

	t.Run("tcp", func(t *testing.T) {
		t.Parallel()

		res := compile(t, c, resolve(t, map[string]any{"healthcheck_mode": "tcp"}))
		container := res.Manifest.PodTemplate().Spec.Containers[0]
		require.Equal(t, int32(8888), container.LivenessProbe.TCPSocket.Port.IntVal)
		require.NotNil(t, container.ReadinessProbe)
	})

	t.Run("cmd", func(t *testing.T) {
		t.Parallel()

		res := compile(t, c, resolve(t, map[string]any{
			"healthcheck_mode": "cmd",
			"healthcheck_cmd":  "/check.sh",
		}))
		probe := res.Manifest.PodTemplate().Spec.Containers[0].LivenessProbe
		require.Equal(t, []string{"/bin/sh", "-c", "/check.sh"}, probe.Exec.Command)
	})

	t.Run("unknown mode fails", func(t *testing.T) {
		t.Parallel()

		_, err := c.Compile(t.Context(), resolve(t, map[string]any{"healthcheck_mode": "udp"}), compiler.Options{})
		require.ErrorIs(t, err, compiler.ErrInvalidHealthcheckMode)
	})
}

func TestCompile_PreStop(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, compiler.SystemConfig{})

	res := compile(t, c, resolve(t, map[string]any{
		"lifecycle": map[string]any{
			"pre_stop_command":                 "/drain.sh",
			"termination_grace_period_seconds": 90,
		},
	}))

	spec := res.Manifest.PodTemplate().Spec
	require.Equal(t, []string{"/drain.sh"}, spec.Containers[0].Lifecycle.PreStop.Exec.Command)
	require.Equal(t, int64(90), *spec.TerminationGracePeriodSeconds)
}

func TestCompile_Volumes(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, testSystem())

	res := compile(t, c, resolve(t, map[string]any{
		"extra_volumes": []any{
			map[string]any{"containerPath": "/var/log", "hostPath": "/var/log/", "mode": "RW"},
		},
		"secret_volumes": []any{
			map[string]any{
				"container_path": "/secrets",
				"secret_name":    "tls",
				"default_mode":   "0400",
				"items":          []any{map[string]any{"key": "crt", "path": "tls.crt", "mode": "0644"}},
			},
		},
	}))

	spec := res.Manifest.PodTemplate().Spec
	names := make([]string, 0, len(spec.Volumes))

	for _, v := range spec.Volumes {
		names = append(names, v.Name)
	}

	require.Equal(t, []string{"host--slash-etcslash-ssl", "host--slash-varslash-log", "secret--tls"}, names)

	secret := spec.Volumes[2].Secret
	require.Equal(t, "kubedeploy-secret-svc-tls", secret.SecretName)
	require.Equal(t, int32(0o400), *secret.DefaultMode)
	require.Equal(t, []corev1.KeyToPath{{Key: "crt", Path: "tls.crt", Mode: ptr.To(int32(0o644))}}, secret.Items)

	mounts := spec.Containers[0].VolumeMounts
	require.Equal(t, []corev1.VolumeMount{
		{Name: "host--slash-etcslash-ssl", MountPath: "/etc/ssl", ReadOnly: true},
		{Name: "host--slash-varslash-log", MountPath: "/var/log", ReadOnly: false},
		{Name: "secret--tls", MountPath: "/secrets", ReadOnly: true},
	}, mounts)

	_, err := c.Compile(t.Context(), resolve(t, map[string]any{
		"secret_volumes": []any{
			map[string]any{"container_path": "/s", "secret_name": "tls", "default_mode": "rw-r--r--"},
		},
	}), compiler.Options{})
	require.ErrorIs(t, err, compiler.ErrInvalidVolumeMode)
}

func TestCompile_StatefulSet(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, testSystem())
	pv := []any{
		map[string]any{"container_path": "/data", "size": 20, "mode": "RW", "storage_class_name": "gp3"},
		map[string]any{"container_path": "/scratch", "size": 5, "mode": "RW", "storage_class_name": "io9"},
	}

	res := compile(t, c, resolve(t, map[string]any{"persistent_volumes": pv}))
	require.Equal(t, compiler.KindStatefulSet, res.Manifest.Kind())
	require.Nil(t, res.Manifest.Deployment)

	sts := res.Manifest.StatefulSet
	require.Equal(t, "svc-main", sts.Spec.ServiceName)
	require.Equal(t, int32(1), *sts.Spec.Replicas)
	require.Len(t, sts.Spec.VolumeClaimTemplates, 2)

	data := sts.Spec.VolumeClaimTemplates[0]
	require.Equal(t, "pv--slash-data", data.Name)
	require.Equal(t, "gp3", *data.Spec.StorageClassName)
	require.Equal(t, []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce}, data.Spec.AccessModes)
	requireQuantity(t, "20Gi", data.Spec.Resources.Requests[corev1.ResourceStorage])

	require.Equal(t, "ebs", *sts.Spec.VolumeClaimTemplates[1].Spec.StorageClassName, "unsupported class falls back")

	_, err := c.Compile(t.Context(), resolve(t, map[string]any{"persistent_volumes": pv, "instances": 2}), compiler.Options{})
	require.ErrorIs(t, err, compiler.ErrInvalidReplicaCount)

	stopped := compile(t, c, resolve(t, map[string]any{"persistent_volumes": pv, "desired_state": "stop"}))
	require.Equal(t, int32(0), stopped.Manifest.Replicas())
}

func TestDesiredReplicas(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		giveOver     map[string]any
		giveObserved *int32
		want         int32
		wantErr      error
	}{
		{name: "default one", giveOver: map[string]any{}, want: 1},
		{name: "fixed instances", giveOver: map[string]any{"instances": 4}, want: 4},
		{name: "zero instances", giveOver: map[string]any{"instances": 0}, want: 0},
		{name: "stopped", giveOver: map[string]any{"instances": 4, "desired_state": "stop"}, want: 0},
		{name: "autoscaled without observation", giveOver: map[string]any{"min_instances": 2, "max_instances": 8}, want: 2},
		{
			name:         "autoscaled keeps observed",
			giveOver:     map[string]any{"min_instances": 2, "max_instances": 8},
			giveObserved: ptr.To(int32(5)),
			want:         5,
		},
		{
			name:         "autoscaled clamps observed",
			giveOver:     map[string]any{"min_instances": 2, "max_instances": 8},
			giveObserved: ptr.To(int32(20)),
			want:         8,
		},
		{
			name: "ebs with many replicas",
			giveOver: map[string]any{
				"instances":       2,
				"aws_ebs_volumes": []any{map[string]any{"volume_id": "vol-1", "container_path": "/d"}},
			},
			wantErr: compiler.ErrInvalidReplicaCount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := compiler.DesiredReplicas(resolve(t, tt.giveOver), tt.giveObserved)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCompile_IAMRole(t *testing.T) {
	t.Parallel()

	c := newCompiler(t, compiler.SystemConfig{})

	aws := compile(t, c, resolve(t, map[string]any{
		"iam_role":          "arn:aws:iam::123:role/app",
		"iam_role_provider": "aws",
	}))
	spec := aws.Manifest.PodTemplate().Spec
	require.Equal(t, "kubedeploy--arn-aws-iam-123-role-app", spec.ServiceAccountName)
	require.Equal(t, int64(65534), *spec.SecurityContext.FSGroup)

	kiam := compile(t, c, resolve(t, map[string]any{"iam_role": "arn:aws:iam::123:role/app"}))
	require.Equal(t, "arn:aws:iam::123:role/app", kiam.Manifest.PodTemplate().Annotations[compiler.AnnotationIAMRole])
	require.Empty(t, kiam.Manifest.PodTemplate().Spec.ServiceAccountName)
}

func TestDisruptionBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		giveReplicas int32
		giveMargin   float64
		want         int32
	}{
		{giveReplicas: 0, giveMargin: 1.0, want: 0},
		{giveReplicas: 1, giveMargin: 1.0, want: 1},
		{giveReplicas: 10, giveMargin: 0.9, want: 1},
		{giveReplicas: 10, giveMargin: 0.5, want: 5},
		{giveReplicas: 3, giveMargin: 0.5, want: 1},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, compiler.MaxUnavailable(tt.giveReplicas, tt.giveMargin),
			"replicas=%d margin=%v", tt.giveReplicas, tt.giveMargin)
	}

	c := newCompiler(t, compiler.SystemConfig{})
	res := compile(t, c, resolve(t, map[string]any{"instances": 10, "bounce_margin_factor": 0.5}))
	require.Equal(t, int32(5), res.DisruptionBudget.Spec.MaxUnavailable.IntVal)
	require.Equal(t, "svc-main", res.DisruptionBudget.Name)
}

func TestManifest_Accessors(t *testing.T) {
	t.Parallel()

	m := &compiler.Manifest{Deployment: &appsv1.Deployment{}}
	require.Equal(t, int32(1), m.Replicas())

	m.SetReplicas(7)
	require.Equal(t, int32(7), m.Replicas())

	m.SetConfigSHA("configabc")
	require.Equal(t, "configabc", m.ConfigSHA())
	require.Equal(t, "configabc", m.PodTemplate().Labels[compiler.LabelConfigSHA])

	cp := m.DeepCopy()
	cp.SetReplicas(1)
	require.Equal(t, int32(7), m.Replicas())
}
