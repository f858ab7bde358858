package compiler

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

const (
	defaultCPUs                       = 0.25
	defaultCPUBurstAdd                = 1.0
	defaultMem                        = 1024.0
	defaultDisk                       = 1024.0
	defaultBounceMarginFactor         = 1.0
	defaultContainerPort              = int32(8888)
	defaultPool                       = "default"
	defaultHealthcheckURI             = "/status"
	defaultHealthcheckCmd             = "/bin/true"
	defaultHealthcheckGracePeriod     = int32(60)
	defaultHealthcheckInterval        = int32(10)
	defaultHealthcheckTimeout         = int32(10)
	defaultHealthcheckMaxFailures     = int32(30)
	defaultSetpoint                   = 0.8
	defaultDecisionPolicy             = "proportional"
	defaultMovingAverageWindowSeconds = 1800
)

// Resolver merges instance overrides onto service defaults.
type Resolver struct {
	validate *validator.Validate
}

func NewResolver() *Resolver {
	return &Resolver{
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Resolve deep merges overrides onto defaults and decodes the result into
// a canonical InstanceConfig.
func (r *Resolver) Resolve(
	service,
	instance,
	cluster string,
	defaults,
	overrides map[string]any,
) (*InstanceConfig, error) {
	merged := normalizeShapes(DeepMerge(defaults, overrides))

	cfg := &InstanceConfig{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           cfg,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}

	if err := decoder.Decode(merged); err != nil {
		return nil, fmt.Errorf("%w: %s.%s: %w", ErrInvalidConfigShape, service, instance, err)
	}

	cfg.Service = service
	cfg.Instance = instance
	cfg.Cluster = cluster

	applyDefaults(cfg)

	if err := r.validate.Struct(cfg); err != nil {
		return nil, r.validationError(service, instance, err)
	}

	return cfg, nil
}

func (r *Resolver) validationError(service, instance string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s.%s: %w", service, instance, err)
	}

	var missing, invalid []string

	for _, fe := range verrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())

			continue
		}

		invalid = append(invalid, fe.Field()+"("+fe.Tag()+")")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s.%s: %s", ErrMissingConfiguration, service, instance, strings.Join(missing, ", "))
	}

	return fmt.Errorf("%w: %s.%s: %s", ErrInvalidConfigShape, service, instance, strings.Join(invalid, ", "))
}

// DeepMerge returns a new map where override values win over base values.
// Nested maps are merged recursively, everything else is replaced.
func DeepMerge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	maps.Copy(out, base)

	for k, ov := range override {
		bv, ok := out[k]
		if !ok {
			out[k] = ov

			continue
		}

		bm, bok := bv.(map[string]any)
		om, ook := ov.(map[string]any)

		if bok && ook {
			out[k] = DeepMerge(bm, om)

			continue
		}

		out[k] = ov
	}

	return out
}

// normalizeShapes rewrites list based config shapes into maps the decoder
// understands. It never mutates its input.
func normalizeShapes(in map[string]any) map[string]any {
	out := maps.Clone(in)

	if wl, ok := out["deploy_whitelist"].([]any); ok {
		if len(wl) == 2 {
			out["deploy_whitelist"] = map[string]any{
				"location_type": wl[0],
				"values":        wl[1],
			}
		} else {
			delete(out, "deploy_whitelist")
		}
	}

	if bl, ok := out["deploy_blacklist"].([]any); ok {
		entries := make([]any, 0, len(bl))

		for _, item := range bl {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				entries = append(entries, item)

				continue
			}

			entries = append(entries, map[string]any{
				"location_type": pair[0],
				"value":         pair[1],
			})
		}

		out["deploy_blacklist"] = entries
	}

	if aa, ok := out["anti_affinity"].(map[string]any); ok {
		out["anti_affinity"] = []any{aa}
	}

	if ns, ok := out["node_selectors"].(map[string]any); ok {
		out["node_selectors"] = normalizeNodeSelectors(ns)
	}

	return out
}

func normalizeNodeSelectors(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))

	for label, raw := range in {
		switch v := raw.(type) {
		case []any:
			if len(v) == 0 {
				continue
			}

			if _, isMap := v[0].(map[string]any); isMap {
				out[label] = map[string]any{"requirements": v}

				continue
			}

			out[label] = map[string]any{
				"requirements": []any{map[string]any{"operator": "In", "values": v}},
			}
		case map[string]any:
			out[label] = v
		default:
			out[label] = map[string]any{"value": v}
		}
	}

	return out
}

func applyDefaults(cfg *InstanceConfig) {
	if cfg.CPUs == 0 {
		cfg.CPUs = defaultCPUs
	}

	if cfg.CPUBurstAdd == 0 {
		cfg.CPUBurstAdd = defaultCPUBurstAdd
	}

	if cfg.Mem == 0 {
		cfg.Mem = defaultMem
	}

	if cfg.Disk == 0 {
		cfg.Disk = defaultDisk
	}

	if cfg.DesiredState == "" {
		cfg.DesiredState = DesiredStateStart
	}

	if cfg.BounceMethod == "" {
		cfg.BounceMethod = BounceCrossover
	}

	if cfg.BounceMarginFactor == 0 {
		cfg.BounceMarginFactor = defaultBounceMarginFactor
	}

	if cfg.ContainerPort == 0 {
		cfg.ContainerPort = defaultContainerPort
	}

	if cfg.Pool == "" {
		cfg.Pool = defaultPool
	}

	if cfg.HealthcheckURI == "" {
		cfg.HealthcheckURI = defaultHealthcheckURI
	}

	if cfg.HealthcheckCmd == "" {
		cfg.HealthcheckCmd = defaultHealthcheckCmd
	}

	if cfg.HealthcheckGracePeriodSeconds == 0 {
		cfg.HealthcheckGracePeriodSeconds = defaultHealthcheckGracePeriod
	}

	if cfg.HealthcheckIntervalSeconds == 0 {
		cfg.HealthcheckIntervalSeconds = defaultHealthcheckInterval
	}

	if cfg.HealthcheckTimeoutSeconds == 0 {
		cfg.HealthcheckTimeoutSeconds = defaultHealthcheckTimeout
	}

	if cfg.HealthcheckMaxConsecutiveFailures == 0 {
		cfg.HealthcheckMaxConsecutiveFailures = defaultHealthcheckMaxFailures
	}

	if cfg.HealthcheckMode == "" && len(cfg.Registrations) > 0 {
		cfg.HealthcheckMode = HealthcheckHTTP
	}

	as := &cfg.Autoscaling
	if as.MetricsProvider == "" {
		as.MetricsProvider = MetricsProviderCPU
	}

	if as.DecisionPolicy == "" {
		as.DecisionPolicy = defaultDecisionPolicy
	}

	if as.Setpoint == 0 {
		as.Setpoint = defaultSetpoint
	}

	if as.MovingAverageWindowSeconds == 0 {
		as.MovingAverageWindowSeconds = defaultMovingAverageWindowSeconds
	}
}
