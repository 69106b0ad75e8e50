package providers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

// ManagedBy is the value of the managed-by label put on every resource.
const ManagedBy = "cloudplan"

// Base carries the (kind, provider) identity of a builder.
type Base struct {
	kind     engine.ResourceKind
	provider engine.ProviderKind
}

// NewBase creates the identity for a builder.
func NewBase(kind engine.ResourceKind, provider engine.ProviderKind) Base {
	return Base{kind: kind, provider: provider}
}

func (b Base) Kind() engine.ResourceKind { return b.kind }
func (b Base) Provider() engine.ProviderKind { return b.provider }

// NewSpec assembles a spec for the builder's kind with the standard labels and
// the section's validated dependsOn list. Sizes and counts must be positive.
func (b Base) NewSpec(cfg *config.Canonical, env engine.Environment, attrs map[string]interface{}, immutable ...string) (*engine.ResourceSpec, error) {
	if err := CheckSizing(cfg.Section(b.kind), b.kind); err != nil {
		return nil, err
	}
	deps, err := DependsOn(cfg, b.kind)
	if err != nil {
		return nil, err
	}
	imm := append([]string{}, immutable...)
	sort.Strings(imm)
	return &engine.ResourceSpec{
		ID:         string(b.kind),
		Kind:       b.kind,
		Provider:   b.provider,
		Attributes: attrs,
		DependsOn:  deps,
		Immutable:  imm,
		Labels:     Labels(env),
	}, nil
}

// Labels returns the standard labels plus the environment's own labels.
// Standard labels win over user labels of the same name.
func Labels(env engine.Environment) map[string]string {
	labels := make(map[string]string, len(env.Labels)+3)
	for k, v := range env.Labels {
		labels[k] = v
	}
	labels["environment"] = env.Name
	labels["tier"] = string(env.Tier)
	labels["managed-by"] = ManagedBy
	return labels
}

// ResourceName derives a dash-separated cloud resource name from the environment.
func ResourceName(env engine.Environment, suffix string) string {
	if suffix == "" {
		return env.Name
	}
	return env.Name + "-" + suffix
}

// CompactName derives a lowercase alphanumeric name of at most max characters,
// for providers that reject dashes.
func CompactName(env engine.Environment, suffix string, max int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(env.Name + suffix) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	name := b.String()
	if len(name) > max {
		name = name[:max]
	}
	return name
}

// DependsOn returns the section's explicit dependencies, sorted and
// deduplicated. Every entry must name an enabled resource.
func DependsOn(cfg *config.Canonical, kind engine.ResourceKind) ([]string, error) {
	field := string(kind) + "." + config.OptDependsOn
	seen := make(map[string]bool)
	var deps []string
	for _, d := range cfg.Section(kind).Strings(config.OptDependsOn) {
		dep := engine.ResourceKind(d)
		if !dep.Valid() {
			return nil, engine.NewConfigError(field, fmt.Sprintf("%s depends on unknown resource %q", kind, d)).
				WithResource(string(kind)).WithCode(engine.ErrCodeInvalidValue)
		}
		if !cfg.Enabled(dep) {
			return nil, engine.NewConfigError(field, fmt.Sprintf("%s depends on %s, which is not enabled", kind, d)).
				WithResource(string(kind))
		}
		if !seen[d] {
			seen[d] = true
			deps = append(deps, d)
		}
	}
	sort.Strings(deps)
	return deps, nil
}

// ClusterSize is the resolved node pool sizing of a cluster.
type ClusterSize struct {
	Min      int
	Max      int
	Desired  int
	Warnings []string
}

// ClusterSizing resolves the node counts for tier. Production clusters never
// run fewer than ProductionMinNodes nodes; a smaller request is raised and
// reported as a warning. Desired is clamped into [Min, Max].
func ClusterSizing(opts config.Options, tier engine.Tier) (ClusterSize, error) {
	if err := CheckSizing(opts, engine.KindKubernetesCluster); err != nil {
		return ClusterSize{}, err
	}
	p := Profile(tier)
	size := ClusterSize{
		Min:     IntOr(opts, config.OptMinNodes, p.ClusterMinNodes),
		Max:     IntOr(opts, config.OptMaxNodes, p.ClusterMaxNodes),
		Desired: IntOr(opts, config.OptDesiredNodes, p.ClusterDesiredNodes),
	}

	if tier == engine.TierProduction && size.Min < ProductionMinNodes {
		size.Warnings = append(size.Warnings, fmt.Sprintf(
			"kubernetes_cluster.minNodes raised from %d to %d for production", size.Min, ProductionMinNodes))
		size.Min = ProductionMinNodes
	}
	if size.Min > size.Max {
		return ClusterSize{}, engine.NewConfigError("kubernetes_cluster."+config.OptMinNodes,
			fmt.Sprintf("minNodes (%d) exceeds maxNodes (%d)", size.Min, size.Max)).
			WithResource(string(engine.KindKubernetesCluster)).WithCode(engine.ErrCodeInvalidValue)
	}
	if size.Desired < size.Min {
		size.Desired = size.Min
	}
	if size.Desired > size.Max {
		size.Desired = size.Max
	}
	return size, nil
}

// RequireCluster fails when a cluster-dependent kind is enabled without a cluster.
func RequireCluster(cfg *config.Canonical, kind engine.ResourceKind) error {
	if cfg.Enabled(engine.KindKubernetesCluster) {
		return nil
	}
	return engine.NewConfigError(string(engine.KindKubernetesCluster),
		fmt.Sprintf("%s requires an enabled kubernetes_cluster", kind)).WithResource(string(kind))
}
