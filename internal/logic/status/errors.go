package status

import "errors"

var (
	ErrUnknownDeployStatus = errors.New("unknown deploy status")
	ErrGetWorkload         = errors.New("get workload")
	ErrListPods            = errors.New("list pods")
	ErrListReplicaSets     = errors.New("list replicasets")
)
