package deployer

// InstanceRef names one deployable service instance.
type InstanceRef struct {
	Service  string
	Instance string
}

func (r InstanceRef) String() string {
	return r.Service + "." + r.Instance
}

// InstanceSource is the raw, unmerged configuration of an instance.
type InstanceSource struct {
	Defaults  map[string]any
	Overrides map[string]any
}
