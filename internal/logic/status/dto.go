package status

import (
	"time"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Workload is the observed state of a Deployment or StatefulSet.
type Workload struct {
	Kind            string            `json:"kind"`
	Name            string            `json:"name"`
	Namespace       string            `json:"namespace"`
	Labels          map[string]string `json:"labels,omitempty"`
	DesiredReplicas int32             `json:"desired_replicas"`
	Replicas        int32             `json:"replicas"`
	ReadyReplicas   *int32            `json:"ready_replicas,omitempty"`
	UpdatedReplicas *int32            `json:"updated_replicas,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// AppStatus pairs a workload with its derived deploy status.
type AppStatus struct {
	Workload     Workload     `json:"workload"`
	DeployStatus DeployStatus `json:"deploy_status"`
	ConfigSHA    string       `json:"config_sha,omitempty"`
	GitSHA       string       `json:"git_sha,omitempty"`
}

type Pod struct {
	Name       string            `json:"name"`
	Namespace  string            `json:"namespace"`
	Phase      string            `json:"phase"`
	Ready      bool              `json:"ready"`
	NodeName   string            `json:"node_name,omitempty"`
	HostIP     string            `json:"host_ip,omitempty"`
	PodIP      string            `json:"pod_ip,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Containers []ContainerState  `json:"containers"`
}

type ContainerState struct {
	Name         string `json:"name"`
	Ready        bool   `json:"ready"`
	RestartCount int32  `json:"restart_count"`
	State        string `json:"state"`
	Reason       string `json:"reason,omitempty"`
	Message      string `json:"message,omitempty"`
}

type ReplicaSet struct {
	Name          string    `json:"name"`
	Replicas      int32     `json:"replicas"`
	ReadyReplicas int32     `json:"ready_replicas"`
	ConfigSHA     string    `json:"config_sha,omitempty"`
	GitSHA        string    `json:"git_sha,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ObjectRef names an object events are attached to.
type ObjectRef struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

type Event struct {
	Object    ObjectRef `json:"object"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type PodMetrics struct {
	CPUUsage    *resource.Quantity `json:"cpu_usage,omitempty"`
	MemoryUsage *resource.Quantity `json:"memory_usage,omitempty"`
}

// TailLines holds the last log lines of one container.
type TailLines struct {
	Container string   `json:"container"`
	Lines     []string `json:"lines"`
	Error     string   `json:"error,omitempty"`
}

// PodStatus aggregates everything observed about one pod. Error fields
// carry partial failures instead of failing the whole aggregate.
type PodStatus struct {
	Pod         Pod         `json:"pod"`
	Events      []Event     `json:"events"`
	EventsError string      `json:"events_error,omitempty"`
	Tails       []TailLines `json:"tails,omitempty"`
	Usage       *PodMetrics `json:"usage,omitempty"`
	UsageError  string      `json:"usage_error,omitempty"`
}

type InstanceStatus struct {
	App         *AppStatus   `json:"app,omitempty"`
	Pods        []PodStatus  `json:"pods"`
	ReplicaSets []ReplicaSet `json:"replicasets"`
	Events      []Event      `json:"events"`
	EventsError string       `json:"events_error,omitempty"`
}
