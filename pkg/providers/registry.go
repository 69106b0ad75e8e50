package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Builder turns canonical configuration into the provider-specific spec of
// one logical resource kind. Builders are pure: the same configuration and
// environment always yield the same spec.
type Builder interface {
	Kind() engine.ResourceKind
	Provider() engine.ProviderKind

	// Build emits the resource spec for env. It is only called when the
	// kind's section is enabled.
	Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error)

	// Outputs maps the raw provider outputs of an applied resource to the
	// logical output keys of its kind.
	Outputs(state engine.ResourceState) ([]engine.OutputRecord, error)
}

type builderKey struct {
	kind     engine.ResourceKind
	provider engine.ProviderKind
}

func (k builderKey) String() string {
	return fmt.Sprintf("%s/%s", k.kind, k.provider)
}

// Registry maps (kind, provider) pairs to builders.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	builders map[builderKey]Builder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[builderKey]Builder)}
}

// Register adds builders. Registering a pair twice is a programming error and panics.
func (r *Registry) Register(builders ...Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, b := range builders {
		key := builderKey{kind: b.Kind(), provider: b.Provider()}
		if _, exists := r.builders[key]; exists {
			panic(fmt.Sprintf("providers: builder %s registered twice", key))
		}
		r.builders[key] = b
	}
}

// Select returns the builder for (kind, provider).
func (r *Registry) Select(kind engine.ResourceKind, provider engine.ProviderKind) (Builder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.builders[builderKey{kind: kind, provider: provider}]
	if !ok {
		return nil, engine.NewUnsupportedCombinationError(kind, provider)
	}
	return b, nil
}

// ValidateMatrix checks that every (kind, provider) combination has a builder
// and reports all gaps in a single UnsupportedCombination error.
func (r *Registry) ValidateMatrix(kinds []engine.ResourceKind, providers []engine.ProviderKind) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var missing []string
	for _, k := range kinds {
		for _, p := range providers {
			key := builderKey{kind: k, provider: p}
			if _, ok := r.builders[key]; !ok {
				missing = append(missing, key.String())
			}
		}
	}
	if len(missing) == 0 {
		return nil
	}

	sort.Strings(missing)
	return &engine.EngineError{
		Kind:    engine.KindUnsupportedCombination,
		Class:   engine.ErrorClassPermanent,
		Code:    engine.ErrCodeUnsupported,
		Message: fmt.Sprintf("%d builder combination(s) missing: %s", len(missing), strings.Join(missing, ", ")),
		Details: map[string]interface{}{"missing": missing},
	}
}

// Len returns the number of registered builders.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.builders)
}
