package compiler

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// Kind discriminates the workload variants of a Manifest.
type Kind string

const (
	KindDeployment  Kind = "Deployment"
	KindStatefulSet Kind = "StatefulSet"
)

// Manifest is either a Deployment or a StatefulSet, never both.
type Manifest struct {
	Deployment  *appsv1.Deployment
	StatefulSet *appsv1.StatefulSet
}

func (m *Manifest) Kind() Kind {
	if m.StatefulSet != nil {
		return KindStatefulSet
	}

	return KindDeployment
}

// Object returns the wrapped orchestrator object.
func (m *Manifest) Object() runtime.Object {
	if m.StatefulSet != nil {
		return m.StatefulSet
	}

	return m.Deployment
}

func (m *Manifest) ObjectMeta() *metav1.ObjectMeta {
	if m.StatefulSet != nil {
		return &m.StatefulSet.ObjectMeta
	}

	return &m.Deployment.ObjectMeta
}

func (m *Manifest) PodTemplate() *corev1.PodTemplateSpec {
	if m.StatefulSet != nil {
		return &m.StatefulSet.Spec.Template
	}

	return &m.Deployment.Spec.Template
}

// Replicas returns the desired replica count, 1 when unset.
func (m *Manifest) Replicas() int32 {
	var replicas *int32

	if m.StatefulSet != nil {
		replicas = m.StatefulSet.Spec.Replicas
	} else {
		replicas = m.Deployment.Spec.Replicas
	}

	if replicas == nil {
		return 1
	}

	return *replicas
}

func (m *Manifest) SetReplicas(n int32) {
	if m.StatefulSet != nil {
		m.StatefulSet.Spec.Replicas = &n

		return
	}

	m.Deployment.Spec.Replicas = &n
}

// ConfigSHA returns the config hash label of the workload.
func (m *Manifest) ConfigSHA() string {
	return m.ObjectMeta().Labels[LabelConfigSHA]
}

func (m *Manifest) SetConfigSHA(hash string) {
	meta := m.ObjectMeta()
	if meta.Labels == nil {
		meta.Labels = map[string]string{}
	}

	meta.Labels[LabelConfigSHA] = hash

	tmpl := m.PodTemplate()
	if tmpl.Labels == nil {
		tmpl.Labels = map[string]string{}
	}

	tmpl.Labels[LabelConfigSHA] = hash
}

func (m *Manifest) DeepCopy() *Manifest {
	if m == nil {
		return nil
	}

	out := &Manifest{}

	if m.Deployment != nil {
		out.Deployment = m.Deployment.DeepCopy()
	}

	if m.StatefulSet != nil {
		out.StatefulSet = m.StatefulSet.DeepCopy()
	}

	return out
}
