// Package workspace runs the provisioning pipeline end to end: it loads and
// resolves a configuration document, builds one resource spec per enabled
// kind, assembles the dependency graph and drives the engine, unifying the
// outputs of whatever ended up in state.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/outputs"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Workspace ties a builder registry, an engine and the engine's state backend together.
type Workspace struct {
	loader   *config.Loader
	registry *providers.Registry
	engine   *engine.Engine
	backend  engine.StateBackend
	logger   zerolog.Logger
	builders int
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the workspace logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// WithLoader replaces the default document loader.
func WithLoader(l *config.Loader) Option {
	return func(w *Workspace) { w.loader = l }
}

// WithBuildParallelism bounds how many builders run at once.
func WithBuildParallelism(n int) Option {
	return func(w *Workspace) { w.builders = n }
}

// New creates a workspace. backend must be the backend eng was created with.
func New(registry *providers.Registry, eng *engine.Engine, backend engine.StateBackend, opts ...Option) *Workspace {
	w := &Workspace{
		loader:   config.NewLoader(),
		registry: registry,
		engine:   eng,
		backend:  backend,
		logger:   zerolog.Nop(),
		builders: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.builders < 1 {
		w.builders = 1
	}
	return w
}

// Prepared is a configuration carried through resolution, building and graph assembly.
type Prepared struct {
	Config      *config.Canonical
	Environment engine.Environment
	Specs       []*engine.ResourceSpec
	Graph       *engine.DependencyGraph

	// Warnings collects resolver and builder adjustments in pipeline order.
	Warnings []string
}

// Result is the outcome of an apply.
type Result struct {
	Run     *engine.Run
	Outputs []engine.OutputRecord
}

// LoadFile reads the document at path and applies command-line overrides.
func (w *Workspace) LoadFile(path string, o config.Overrides) (config.RawConfig, error) {
	raw, err := w.loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return config.ApplyOverrides(raw, o), nil
}

// Prepare resolves raw, builds every enabled kind and assembles the graph.
// Nothing reaches the engine when any stage fails.
func (w *Workspace) Prepare(ctx context.Context, raw config.RawConfig) (*Prepared, error) {
	cfg, err := config.Resolve(raw)
	if err != nil {
		return nil, err
	}
	env, err := config.BuildEnvironment(cfg)
	if err != nil {
		return nil, err
	}
	logger := w.logger.With().Str("environment", env.Name).Str("provider", string(env.Provider)).Logger()

	p := &Prepared{Config: cfg, Environment: env}
	p.Warnings = append(p.Warnings, cfg.Warnings...)

	specs, err := w.Build(ctx, cfg, env)
	if err != nil {
		return nil, err
	}
	for _, s := range specs {
		for _, msg := range s.Warnings {
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s: %s", s.ID, msg))
		}
	}
	for _, msg := range p.Warnings {
		logger.Warn().Msg(msg)
	}

	graph, err := engine.Assemble(specs)
	if err != nil {
		return nil, err
	}
	p.Specs = specs
	p.Graph = graph

	logger.Debug().
		Int("resources", len(specs)).
		Int("levels", len(graph.Levels)).
		Msg("Prepared environment")
	return p, nil
}

// Build selects a builder for every enabled kind and runs them concurrently.
// Specs come back in kind order; errors are joined in the same order.
func (w *Workspace) Build(ctx context.Context, cfg *config.Canonical, env engine.Environment) ([]*engine.ResourceSpec, error) {
	kinds := cfg.EnabledKinds()

	builders := make([]providers.Builder, len(kinds))
	var selectErrs []error
	for i, kind := range kinds {
		b, err := w.registry.Select(kind, env.Provider)
		if err != nil {
			selectErrs = append(selectErrs, err)
			continue
		}
		builders[i] = b
	}
	if err := joinErrors(selectErrs); err != nil {
		return nil, err
	}

	specs := make([]*engine.ResourceSpec, len(kinds))
	errs := make([]error, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.builders)
	for i := range builders {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			spec, err := builders[i].Build(cfg, env)
			if err != nil {
				errs[i] = err
				return nil
			}
			specs[i] = spec
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, engine.NewCancelledError("build cancelled", err)
	}
	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return specs, nil
}

// Plan computes the plan for p without changing anything.
func (w *Workspace) Plan(ctx context.Context, p *Prepared) (*engine.Plan, error) {
	return w.engine.Plan(ctx, p.Environment, p.Graph)
}

// Apply converges the environment to p and unifies the outputs of every
// resource in state afterwards, including after a partial failure.
func (w *Workspace) Apply(ctx context.Context, p *Prepared) (*Result, error) {
	run, runErr := w.engine.Apply(ctx, p.Environment, p.Graph)
	res := &Result{Run: run}
	if run == nil {
		return res, runErr
	}

	// Outputs are read with a fresh context so a cancelled apply still reports
	// what it created.
	recs, err := w.Outputs(context.WithoutCancel(ctx), p)
	if err != nil {
		if runErr != nil {
			w.logger.Warn().Err(err).Msg("Could not unify outputs after failed run")
			return res, runErr
		}
		return res, err
	}
	res.Outputs = recs
	return res, runErr
}

// Destroy deletes every resource recorded for p's environment.
func (w *Workspace) Destroy(ctx context.Context, p *Prepared) (*engine.Run, error) {
	return w.engine.Destroy(ctx, p.Environment)
}

// Outputs unifies the outputs of p's resources as currently recorded in state.
func (w *Workspace) Outputs(ctx context.Context, p *Prepared) ([]engine.OutputRecord, error) {
	snap, _, err := w.backend.Load(ctx, p.Environment.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return outputs.Unify(p.Graph, snap, w.registry)
}

func joinErrors(errs []error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.Join(nonNil...)
	}
}
