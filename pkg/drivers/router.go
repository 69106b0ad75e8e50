// Package drivers dispatches resource operations to the driver responsible
// for each (kind, provider) pair.
package drivers

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

type routeKey struct {
	kind     engine.ResourceKind
	provider engine.ProviderKind
}

// Router is an engine.Driver that forwards each call to the driver routed
// for the resource's kind and provider, or to the fallback driver.
type Router struct {
	// mu protects routes.
	mu sync.RWMutex

	routes   map[routeKey]engine.Driver
	fallback engine.Driver
}

// NewRouter creates a router. fallback may be nil, in which case unrouted
// resources fail with UnsupportedCombination.
func NewRouter(fallback engine.Driver) *Router {
	return &Router{routes: make(map[routeKey]engine.Driver), fallback: fallback}
}

// Route sends operations on (kind, provider) resources to d.
func (r *Router) Route(kind engine.ResourceKind, provider engine.ProviderKind, d engine.Driver) *Router {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[routeKey{kind: kind, provider: provider}] = d
	return r
}

// DriverFor returns the driver responsible for (kind, provider).
func (r *Router) DriverFor(kind engine.ResourceKind, provider engine.ProviderKind) (engine.Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.routes[routeKey{kind: kind, provider: provider}]; ok {
		return d, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, engine.NewUnsupportedCombinationError(kind, provider).
		WithDetail("reason", fmt.Sprintf("no driver routed for %s on %s", kind, provider))
}

// Create implements engine.Driver.
func (r *Router) Create(ctx context.Context, spec *engine.ResourceSpec) (*engine.ProviderResult, error) {
	d, err := r.DriverFor(spec.Kind, spec.Provider)
	if err != nil {
		return nil, err
	}
	return d.Create(ctx, spec)
}

// Update implements engine.Driver.
func (r *Router) Update(ctx context.Context, spec *engine.ResourceSpec, prior *engine.ResourceState) (*engine.ProviderResult, error) {
	d, err := r.DriverFor(spec.Kind, spec.Provider)
	if err != nil {
		return nil, err
	}
	return d.Update(ctx, spec, prior)
}

// Delete implements engine.Driver. The driver is chosen by the provider the
// resource was created on.
func (r *Router) Delete(ctx context.Context, prior *engine.ResourceState) error {
	d, err := r.DriverFor(prior.Kind, prior.Provider)
	if err != nil {
		return err
	}
	return d.Delete(ctx, prior)
}

// Read implements engine.Reader. Resources whose driver cannot read live
// state are reported unchanged.
func (r *Router) Read(ctx context.Context, prior *engine.ResourceState) (*engine.ResourceState, error) {
	d, err := r.DriverFor(prior.Kind, prior.Provider)
	if err != nil {
		return nil, err
	}
	if reader, ok := d.(engine.Reader); ok {
		return reader.Read(ctx, prior)
	}
	return prior, nil
}

var (
	_ engine.Driver = (*Router)(nil)
	_ engine.Reader = (*Router)(nil)
)
