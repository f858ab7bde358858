package compiler

import (
	"context"
	"fmt"
	"slices"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

var prefixedNodeLabels = map[string]struct{}{
	"datacenter":  {},
	"ecosystem":   {},
	"habitat":     {},
	"hostname":    {},
	"region":      {},
	"superregion": {},
	"pool":        {},
}

// NodeLabel maps a location type to the node label carrying it.
func NodeLabel(locationType string) string {
	switch locationType {
	case "instance_type", "instance-type":
		return instanceTypeNodeLabel
	}

	if _, ok := prefixedNodeLabels[locationType]; ok {
		return LabelPrefix + locationType
	}

	return locationType
}

// NodeRequirements collects placement requirements from the allow list,
// the deny list and the raw node selectors, in that order.
func NodeRequirements(cfg *InstanceConfig) ([]corev1.NodeSelectorRequirement, error) {
	var out []corev1.NodeSelectorRequirement

	if !cfg.DeployWhitelist.IsZero() {
		out = append(out, corev1.NodeSelectorRequirement{
			Key:      NodeLabel(cfg.DeployWhitelist.LocationType),
			Operator: corev1.NodeSelectorOpIn,
			Values:   slices.Clone(cfg.DeployWhitelist.Values),
		})
	}

	for _, entry := range cfg.DeployBlacklist {
		out = append(out, corev1.NodeSelectorRequirement{
			Key:      NodeLabel(entry.LocationType),
			Operator: corev1.NodeSelectorOpNotIn,
			Values:   []string{entry.Value},
		})
	}

	labels := make([]string, 0, len(cfg.NodeSelectors))
	for label := range cfg.NodeSelectors {
		labels = append(labels, label)
	}

	slices.Sort(labels)

	for _, label := range labels {
		for _, req := range cfg.NodeSelectors[label].Requirements {
			r, err := selectorRequirement(NodeLabel(label), req)
			if err != nil {
				return nil, err
			}

			out = append(out, r)
		}
	}

	return out, nil
}

func selectorRequirement(key string, req SelectorRequirement) (corev1.NodeSelectorRequirement, error) {
	op := corev1.NodeSelectorOperator(req.Operator)

	switch op {
	case corev1.NodeSelectorOpIn, corev1.NodeSelectorOpNotIn:
		return corev1.NodeSelectorRequirement{Key: key, Operator: op, Values: slices.Clone(req.Values)}, nil
	case corev1.NodeSelectorOpExists, corev1.NodeSelectorOpDoesNotExist:
		return corev1.NodeSelectorRequirement{Key: key, Operator: op, Values: []string{}}, nil
	case corev1.NodeSelectorOpGt, corev1.NodeSelectorOpLt:
		return corev1.NodeSelectorRequirement{Key: key, Operator: op, Values: []string{req.Value}}, nil
	default:
		return corev1.NodeSelectorRequirement{}, fmt.Errorf(
			"%w: %q on label %s", ErrInvalidPlacementOperator, req.Operator, key,
		)
	}
}

// NodeSelectorLabels returns the exact-match node labels of an instance.
func NodeSelectorLabels(cfg *InstanceConfig) map[string]string {
	out := map[string]string{LabelPool: cfg.Pool}

	for label, sel := range cfg.NodeSelectors {
		if len(sel.Requirements) == 0 && sel.Value != "" {
			out[NodeLabel(label)] = sel.Value
		}
	}

	return out
}

func (c *Compiler) podAntiAffinity(ctx context.Context, cfg *InstanceConfig) *corev1.PodAntiAffinity {
	var terms []corev1.PodAffinityTerm

	for _, cond := range cfg.AntiAffinity {
		var exprs []metav1.LabelSelectorRequirement

		if svc, ok := cond["service"]; ok {
			exprs = append(exprs, metav1.LabelSelectorRequirement{
				Key:      LabelService,
				Operator: metav1.LabelSelectorOpIn,
				Values:   []string{svc},
			})
		}

		if inst, ok := cond["instance"]; ok {
			exprs = append(exprs, metav1.LabelSelectorRequirement{
				Key:      LabelInstance,
				Operator: metav1.LabelSelectorOpIn,
				Values:   []string{inst},
			})
		}

		if len(exprs) == 0 {
			c.logger.WarnContext(ctx, "ignoring anti affinity condition without service or instance",
				"service", cfg.Service,
				"instance", cfg.Instance,
				"condition", cond,
			)

			continue
		}

		terms = append(terms, corev1.PodAffinityTerm{
			LabelSelector: &metav1.LabelSelector{MatchExpressions: exprs},
			TopologyKey:   hostnameTopologyKey,
		})
	}

	if len(terms) == 0 {
		return nil
	}

	return &corev1.PodAntiAffinity{RequiredDuringSchedulingIgnoredDuringExecution: terms}
}

// affinity merges node requirements and anti collocation terms. It returns
// nil when there is nothing to constrain: an empty node affinity matches no node.
func (c *Compiler) affinity(ctx context.Context, cfg *InstanceConfig) (*corev1.Affinity, error) {
	reqs, err := NodeRequirements(cfg)
	if err != nil {
		return nil, err
	}

	anti := c.podAntiAffinity(ctx, cfg)

	if len(reqs) == 0 && anti == nil {
		return nil, nil //nolint:nilnil // no placement constraints
	}

	aff := &corev1.Affinity{PodAntiAffinity: anti}

	if len(reqs) > 0 {
		aff.NodeAffinity = &corev1.NodeAffinity{
			RequiredDuringSchedulingIgnoredDuringExecution: &corev1.NodeSelector{
				NodeSelectorTerms: []corev1.NodeSelectorTerm{{MatchExpressions: reqs}},
			},
		}
	}

	return aff, nil
}
