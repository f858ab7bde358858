package deployer

import "errors"

var (
	ErrListInstances         = errors.New("list instances")
	ErrLoadInstance          = errors.New("load instance")
	ErrSecretFingerprint     = errors.New("secret fingerprint")
	ErrGetWorkload           = errors.New("get workload")
	ErrApplyWorkload         = errors.New("apply workload")
	ErrApplyAutoscaler       = errors.New("apply autoscaler")
	ErrApplyDisruptionBudget = errors.New("apply disruption budget")
	ErrServiceNotReady       = errors.New("deployer service is not ready")
	ErrReconcileTooOld       = errors.New("last reconcile was too long ago")
)
