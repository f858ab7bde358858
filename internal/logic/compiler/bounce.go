package compiler

import (
	"fmt"
	"math"

	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
)

// BounceStrategy maps a bounce method to a Deployment rollout strategy.
// Block devices cannot be attached to two pods at once, so any EBS volume
// requires downthenup.
func BounceStrategy(method string, marginFactor float64, hasEBS bool) (appsv1.DeploymentStrategy, error) {
	if hasEBS && method != BounceDownThenUp {
		return appsv1.DeploymentStrategy{}, fmt.Errorf(
			"%w: %s with aws_ebs_volumes, use %s", ErrIncompatibleBounceMethod, method, BounceDownThenUp,
		)
	}

	switch method {
	case BounceCrossover:
		unavailable := int(math.Round(percentScale * (1 - marginFactor)))

		return rollingUpdate(percentScale, unavailable), nil
	case BounceBrutal:
		return rollingUpdate(percentScale, percentScale), nil
	case BounceDownThenUp:
		return appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType}, nil
	default:
		return appsv1.DeploymentStrategy{}, fmt.Errorf("%w: unknown method %q", ErrIncompatibleBounceMethod, method)
	}
}

func rollingUpdate(surgePercent, unavailablePercent int) appsv1.DeploymentStrategy {
	surge := intstr.FromString(fmt.Sprintf("%d%%", surgePercent))
	unavailable := intstr.FromString(fmt.Sprintf("%d%%", unavailablePercent))

	return appsv1.DeploymentStrategy{
		Type: appsv1.RollingUpdateDeploymentStrategyType,
		RollingUpdate: &appsv1.RollingUpdateDeployment{
			MaxSurge:       &surge,
			MaxUnavailable: &unavailable,
		},
	}
}
