package k8s

import (
	"context"
	"errors"

	autoscalingv2 "k8s.io/api/autoscaling/v2"
	policyv1 "k8s.io/api/policy/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

const (
	kindHPA = "HorizontalPodAutoscaler"
	kindPDB = "PodDisruptionBudget"
)

// GetManifestQuery reads the live workload, trying a Deployment first.
// It returns nil when neither kind exists.
func (a *Adapter) GetManifestQuery(
	ctx context.Context,
	namespace,
	name string,
) (*compiler.Manifest, error) {
	deployment, err := a.clientset.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return &compiler.Manifest{Deployment: deployment}, nil
	}

	if err = translate("get deployment", string(compiler.KindDeployment), name, err); !isNotFound(err) {
		return nil, err
	}

	sts, err := a.clientset.AppsV1().StatefulSets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return &compiler.Manifest{StatefulSet: sts}, nil
	}

	if err = translate("get statefulset", string(compiler.KindStatefulSet), name, err); !isNotFound(err) {
		return nil, err
	}

	return nil, nil //nolint:nilnil // absent workload
}

func (a *Adapter) CreateWorkloadCommand(ctx context.Context, m *compiler.Manifest) error {
	meta := m.ObjectMeta()

	var err error

	switch m.Kind() {
	case compiler.KindStatefulSet:
		_, err = a.clientset.AppsV1().StatefulSets(meta.Namespace).Create(ctx, m.StatefulSet, metav1.CreateOptions{})
	case compiler.KindDeployment:
		_, err = a.clientset.AppsV1().Deployments(meta.Namespace).Create(ctx, m.Deployment, metav1.CreateOptions{})
	}

	return translate("create "+string(m.Kind()), string(m.Kind()), meta.Name, err)
}

// ReplaceWorkloadCommand overwrites the live workload with m, keeping the
// live resource version.
func (a *Adapter) ReplaceWorkloadCommand(ctx context.Context, m *compiler.Manifest) error {
	meta := m.ObjectMeta()
	kind := string(m.Kind())

	switch m.Kind() {
	case compiler.KindStatefulSet:
		client := a.clientset.AppsV1().StatefulSets(meta.Namespace)

		live, err := client.Get(ctx, meta.Name, metav1.GetOptions{})
		if err != nil {
			return translate("get statefulset", kind, meta.Name, err)
		}

		desired := m.StatefulSet.DeepCopy()
		desired.ResourceVersion = live.ResourceVersion

		_, err = client.Update(ctx, desired, metav1.UpdateOptions{})

		return translate("replace statefulset", kind, meta.Name, err)
	case compiler.KindDeployment:
		client := a.clientset.AppsV1().Deployments(meta.Namespace)

		live, err := client.Get(ctx, meta.Name, metav1.GetOptions{})
		if err != nil {
			return translate("get deployment", kind, meta.Name, err)
		}

		desired := m.Deployment.DeepCopy()
		desired.ResourceVersion = live.ResourceVersion

		_, err = client.Update(ctx, desired, metav1.UpdateOptions{})

		return translate("replace deployment", kind, meta.Name, err)
	}

	return nil
}

// DeleteWorkloadCommand deletes a workload and, in the background, its pods.
func (a *Adapter) DeleteWorkloadCommand(
	ctx context.Context,
	kind compiler.Kind,
	namespace,
	name string,
) error {
	opts := metav1.DeleteOptions{PropagationPolicy: ptr.To(metav1.DeletePropagationBackground)}

	var err error

	switch kind {
	case compiler.KindStatefulSet:
		err = a.clientset.AppsV1().StatefulSets(namespace).Delete(ctx, name, opts)
	case compiler.KindDeployment:
		err = a.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, opts)
	}

	return translate("delete "+string(kind), string(kind), name, err)
}

func (a *Adapter) GetAutoscalerQuery(
	ctx context.Context,
	namespace,
	name string,
) (*autoscalingv2.HorizontalPodAutoscaler, error) {
	hpa, err := a.clientset.AutoscalingV2().HorizontalPodAutoscalers(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if err = translate("get autoscaler", kindHPA, name, err); isNotFound(err) {
			return nil, nil //nolint:nilnil // absent autoscaler
		}

		return nil, err
	}

	return hpa, nil
}

func (a *Adapter) CreateAutoscalerCommand(ctx context.Context, hpa *autoscalingv2.HorizontalPodAutoscaler) error {
	_, err := a.clientset.AutoscalingV2().HorizontalPodAutoscalers(hpa.Namespace).
		Create(ctx, hpa, metav1.CreateOptions{})

	return translate("create autoscaler", kindHPA, hpa.Name, err)
}

func (a *Adapter) ReplaceAutoscalerCommand(ctx context.Context, hpa *autoscalingv2.HorizontalPodAutoscaler) error {
	client := a.clientset.AutoscalingV2().HorizontalPodAutoscalers(hpa.Namespace)

	live, err := client.Get(ctx, hpa.Name, metav1.GetOptions{})
	if err != nil {
		return translate("get autoscaler", kindHPA, hpa.Name, err)
	}

	desired := hpa.DeepCopy()
	desired.ResourceVersion = live.ResourceVersion

	_, err = client.Update(ctx, desired, metav1.UpdateOptions{})

	return translate("replace autoscaler", kindHPA, hpa.Name, err)
}

func (a *Adapter) DeleteAutoscalerCommand(ctx context.Context, namespace, name string) error {
	err := a.clientset.AutoscalingV2().HorizontalPodAutoscalers(namespace).Delete(ctx, name, metav1.DeleteOptions{})

	return translate("delete autoscaler", kindHPA, name, err)
}

func (a *Adapter) GetDisruptionBudgetQuery(
	ctx context.Context,
	namespace,
	name string,
) (*policyv1.PodDisruptionBudget, error) {
	pdb, err := a.clientset.PolicyV1().PodDisruptionBudgets(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if err = translate("get disruption budget", kindPDB, name, err); isNotFound(err) {
			return nil, nil //nolint:nilnil // absent budget
		}

		return nil, err
	}

	return pdb, nil
}

func (a *Adapter) CreateDisruptionBudgetCommand(ctx context.Context, pdb *policyv1.PodDisruptionBudget) error {
	_, err := a.clientset.PolicyV1().PodDisruptionBudgets(pdb.Namespace).Create(ctx, pdb, metav1.CreateOptions{})

	return translate("create disruption budget", kindPDB, pdb.Name, err)
}

func (a *Adapter) ReplaceDisruptionBudgetCommand(ctx context.Context, pdb *policyv1.PodDisruptionBudget) error {
	client := a.clientset.PolicyV1().PodDisruptionBudgets(pdb.Namespace)

	live, err := client.Get(ctx, pdb.Name, metav1.GetOptions{})
	if err != nil {
		return translate("get disruption budget", kindPDB, pdb.Name, err)
	}

	desired := pdb.DeepCopy()
	desired.ResourceVersion = live.ResourceVersion

	_, err = client.Update(ctx, desired, metav1.UpdateOptions{})

	return translate("replace disruption budget", kindPDB, pdb.Name, err)
}

func isNotFound(err error) bool {
	var target *NotFoundError

	return errors.As(err, &target)
}
