package k8s

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/skillcoder/kubedeploy/internal/logic/compiler"
)

const signatureKey = "signature"

// SecretFingerprintQuery reads the signature ConfigMap published next to a
// secret. A missing ConfigMap yields an empty fingerprint.
func (a *Adapter) SecretFingerprintQuery(
	ctx context.Context,
	namespace string,
	ref compiler.SecretRef,
) (string, error) {
	name := compiler.SecretSignatureName(ref.Service, ref.Name)

	cm, err := a.clientset.CoreV1().ConfigMaps(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if err = translate("get secret signature", "ConfigMap", name, err); isNotFound(err) {
			return "", nil
		}

		return "", err
	}

	return cm.Data[signatureKey], nil
}
