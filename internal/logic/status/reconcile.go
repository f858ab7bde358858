package status

import (
	"fmt"
	"strings"
)

// DeployStatus summarises how far a workload is from its desired state.
type DeployStatus int

const (
	DeployStatusRunning DeployStatus = iota
	DeployStatusDeploying
	DeployStatusWaiting
	DeployStatusStopped
)

var deployStatusNames = map[DeployStatus]string{
	DeployStatusRunning:   "Running",
	DeployStatusDeploying: "Deploying",
	DeployStatusWaiting:   "Waiting",
	DeployStatusStopped:   "Stopped",
}

func (s DeployStatus) String() string {
	if name, ok := deployStatusNames[s]; ok {
		return name
	}

	return fmt.Sprintf("DeployStatus(%d)", int(s))
}

func (s DeployStatus) MarshalText() ([]byte, error) {
	if _, ok := deployStatusNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDeployStatus, int(s))
	}

	return []byte(s.String()), nil
}

func (s *DeployStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseDeployStatus(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// ParseDeployStatus is the inverse of DeployStatus.String, case insensitive.
func ParseDeployStatus(s string) (DeployStatus, error) {
	for status, name := range deployStatusNames {
		if strings.EqualFold(name, s) {
			return status, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnknownDeployStatus, s)
}

// Reconcile derives the deploy status from desired and observed replica
// counts. Nil ready or updated counts mean the orchestrator reported none.
// Zero desired with zero observed replicas is Stopped whatever the readiness.
func Reconcile(desired int32, ready, updated *int32, total int32) DeployStatus {
	switch {
	case total == 0 && desired == 0:
		return DeployStatusStopped
	case ready == nil:
		if desired == 0 {
			return DeployStatusStopped
		}

		return DeployStatusWaiting
	case *ready != desired:
		return DeployStatusWaiting
	case updated != nil && *updated < desired:
		return DeployStatusDeploying
	default:
		return DeployStatusRunning
	}
}
