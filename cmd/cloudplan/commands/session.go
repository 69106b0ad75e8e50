package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/drivers"
	"github.com/openfroyo/cloudplan/pkg/drivers/awss3"
	"github.com/openfroyo/cloudplan/pkg/drivers/sim"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/policy"
	"github.com/openfroyo/cloudplan/pkg/providers/builtin"
	"github.com/openfroyo/cloudplan/pkg/state"
	"github.com/openfroyo/cloudplan/pkg/telemetry"
	"github.com/openfroyo/cloudplan/pkg/workspace"
)

// Driver names accepted by --driver.
const (
	driverSim = "sim"
	driverAWS = "aws"
)

// configFlags select and override the configuration document.
type configFlags struct {
	file     string
	env      string
	provider string
	tier     string
	region   string
}

func (f *configFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "file", "f", "cloudplan.yaml", "configuration file (.yaml, .json, .cue or .star)")
	cmd.Flags().StringVar(&f.env, "env", "", "override the environment name")
	cmd.Flags().StringVar(&f.provider, "provider", "", "override the cloud provider (aws, azure, gcp)")
	cmd.Flags().StringVar(&f.tier, "tier", "", "override the tier (dev, staging, production)")
	cmd.Flags().StringVar(&f.region, "region", "", "override the region")
}

func (f *configFlags) overrides() config.Overrides {
	return config.Overrides{Name: f.env, Provider: f.provider, Tier: f.tier, Region: f.region}
}

// engineFlags tune planning and applying.
type engineFlags struct {
	parallelism  int
	refresh      bool
	driver       string
	allowDestroy bool
	policyDirs   []string
	enabled      []string
	disabled     []string
	autoApprove  bool
}

func (f *engineFlags) bind(cmd *cobra.Command, approval bool) {
	cmd.Flags().IntVar(&f.parallelism, "parallelism", engine.DefaultSchedulerOptions().Parallelism, "max parallel provider operations")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "read live state through the driver before diffing")
	cmd.Flags().StringVar(&f.driver, "driver", driverSim, "driver (sim, aws); aws manages S3 buckets for real and simulates the rest")
	cmd.Flags().BoolVar(&f.allowDestroy, "allow-destroy", false, "permit deleting or replacing production data")
	cmd.Flags().StringSliceVar(&f.policyDirs, "policy-dir", nil, "load additional Rego policies from these files or directories")
	cmd.Flags().StringSliceVar(&f.enabled, "enable-policy", nil, "enable policies that are disabled by default")
	cmd.Flags().StringSliceVar(&f.disabled, "disable-policy", nil, "skip these policies for this run")
	if approval {
		cmd.Flags().BoolVar(&f.autoApprove, "auto-approve", false, "skip the interactive approval prompt")
	}
}

// session is everything one command invocation needs.
type session struct {
	tel     *telemetry.Telemetry
	logger  zerolog.Logger
	backend state.Backend
	ws      *workspace.Workspace
}

// newSession sets up telemetry, state, driver, policies, engine and
// workspace. ef may be nil for commands that never apply.
func newSession(cmd *cobra.Command, opts *rootOptions, ef *engineFlags) (*session, error) {
	ctx := cmd.Context()

	tel, err := telemetry.NewTelemetry(ctx, opts.telemetryConfig(cmd))
	if err != nil {
		return nil, engine.NewConfigError("telemetry", err.Error())
	}
	s := &session{tel: tel, logger: tel.Logger.Zerolog()}

	if _, err := tel.Metrics.Serve(ctx, s.logger); err != nil {
		s.Close()
		return nil, err
	}

	backend, err := state.Open(ctx, opts.stateOptions())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.backend = backend
	if sink, ok := backend.(engine.EventPublisher); ok {
		tel.Events.AddSink("run-history", sink, nil)
	}

	if ef == nil {
		ef = &engineFlags{driver: driverSim}
	}
	driver, err := newDriver(ctx, ef.driver)
	if err != nil {
		s.Close()
		return nil, err
	}

	checker, err := policy.NewEngine(ctx, s.logger.With().Str("component", "policy").Logger(),
		policy.WithAllowDestroy(ef.allowDestroy), policy.WithUser(currentUser()))
	if err != nil {
		s.Close()
		return nil, err
	}
	if len(ef.policyDirs) > 0 {
		if err := checker.LoadPolicies(ctx, ef.policyDirs); err != nil {
			s.Close()
			return nil, err
		}
	}
	if err := togglePolicies(checker, ef, s.logger); err != nil {
		s.Close()
		return nil, err
	}

	var approver engine.Approver = newPromptApprover(cmd.InOrStdin(), cmd.OutOrStdout())
	if ef.autoApprove {
		approver = engine.ApproverFunc(func(_ context.Context, plan *engine.Plan) (bool, error) {
			renderPlan(cmd.OutOrStdout(), plan)
			return true, nil
		})
	}

	tel.Events.Subscribe(newProgressPrinter(cmd.OutOrStdout()).print, progressFilter)

	reg, err := builtin.Default()
	if err != nil {
		s.Close()
		return nil, err
	}
	eng := engine.New(driver, backend,
		engine.WithApprover(approver),
		engine.WithPlanChecker(checker),
		engine.WithEventPublisher(tel.Events),
		engine.WithInstrumentation(tel),
		engine.WithLogger(s.logger.With().Str("component", "engine").Logger()),
		engine.WithSchedulerOptions(engine.SchedulerOptions{Parallelism: ef.parallelism}),
		engine.WithPlanOptions(engine.PlanOptions{Refresh: ef.refresh}),
	)
	s.ws = workspace.New(reg, eng, backend,
		workspace.WithLogger(s.logger.With().Str("component", "workspace").Logger()))
	return s, nil
}

// togglePolicies applies --enable-policy and --disable-policy. Naming an
// unknown policy is a configuration error.
func togglePolicies(checker *policy.Engine, ef *engineFlags, logger zerolog.Logger) error {
	for _, name := range ef.enabled {
		if err := checker.EnablePolicy(name); err != nil {
			return err
		}
	}
	for _, name := range ef.disabled {
		p, err := checker.GetPolicy(name)
		if err != nil {
			return err
		}
		if p.Severity.Blocking() {
			logger.Warn().Str("policy", name).Msg("Blocking policy disabled for this run")
		}
		if err := checker.DisablePolicy(name); err != nil {
			return err
		}
	}
	return nil
}

// prepare loads the document named by cf and runs it through the pipeline.
func (s *session) prepare(ctx context.Context, cf *configFlags) (*workspace.Prepared, error) {
	raw, err := s.ws.LoadFile(cf.file, cf.overrides())
	if err != nil {
		return nil, err
	}
	return s.ws.Prepare(ctx, raw)
}

// Close releases the backend and flushes telemetry.
func (s *session) Close() {
	var errs []error
	if s.backend != nil {
		errs = append(errs, s.backend.Close())
	}
	errs = append(errs, s.tel.Shutdown(context.Background()))
	if err := errors.Join(errs...); err != nil {
		s.logger.Warn().Err(err).Msg("Cleanup failed")
	}
}

func (o *rootOptions) telemetryConfig(cmd *cobra.Command) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = o.version
	cfg.Logging.Level = o.logLevel
	cfg.Logging.Format = o.logFormat
	cfg.Logging.Writer = cmd.ErrOrStderr()
	cfg.Metrics.ListenAddress = o.metricsAddr
	cfg.Tracing.Exporter = o.traceExporter
	cfg.Tracing.Endpoint = o.traceEndpoint
	cfg.Tracing.Enabled = o.traceExporter != "" && o.traceExporter != "none"
	cfg.Tracing.Writer = cmd.ErrOrStderr()
	return cfg
}

func (o *rootOptions) stateOptions() state.Options {
	return state.Options{
		Kind:   o.stateBackend,
		SQLite: state.SQLiteConfig{Path: o.statePath},
		S3: state.S3Config{
			Bucket:       o.stateBucket,
			Prefix:       o.statePrefix,
			Region:       o.stateRegion,
			Endpoint:     o.stateEndpoint,
			UsePathStyle: o.stateEndpoint != "",
		},
	}
}

func newDriver(ctx context.Context, name string) (engine.Driver, error) {
	switch name {
	case "", driverSim:
		return sim.New(), nil
	case driverAWS:
		buckets, err := awss3.New(ctx, awss3.Options{Region: os.Getenv("AWS_REGION")})
		if err != nil {
			return nil, err
		}
		return drivers.NewRouter(sim.New()).
			Route(engine.KindObjectStorage, engine.ProviderAWS, buckets), nil
	default:
		return nil, engine.NewConfigError("driver", fmt.Sprintf("unknown driver %q (want sim or aws)", name))
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
