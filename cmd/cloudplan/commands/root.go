package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	logLevel      string
	logFormat     string
	metricsAddr   string
	traceExporter string
	traceEndpoint string

	stateBackend  string
	statePath     string
	stateBucket   string
	statePrefix   string
	stateRegion   string
	stateEndpoint string

	version string
}

// Execute runs the root command with args and returns the process exit code.
func Execute(ctx context.Context, args []string, version, commit, buildDate string) int {
	rootCmd := newRootCommand(version, commit, buildDate)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return ExitCode(err)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &rootOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "cloudplan",
		Short: "cloudplan - cloud-agnostic infrastructure provisioning",
		Long: `cloudplan turns a logical description of an environment into the resources
of one cloud provider (aws, azure or gcp), plans and applies them against a
versioned state snapshot and exposes provider-independent outputs.

Features:
  - Alias-tolerant YAML, JSON, CUE or Starlark configuration
  - Eight resource kinds built for every provider
  - Dependency-ordered parallel apply with retries
  - OPA guardrails on every plan
  - SQLite or S3 state with compare-and-swap writes
  - Outputs as key/value documents, Helm values and kubeconfigs`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultLevel := os.Getenv("LOG_LEVEL")
	if defaultLevel == "" {
		defaultLevel = "info"
	}

	// Persistent flags available to all commands
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.logLevel, "log-level", defaultLevel, "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", "console", "log format (console, json)")
	pf.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	pf.StringVar(&opts.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	pf.StringVar(&opts.traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")

	pf.StringVar(&opts.stateBackend, "state-backend", "", "state backend (sqlite, s3, memory); s3 when --state-bucket is set")
	pf.StringVar(&opts.statePath, "state-path", "", "SQLite state database path")
	pf.StringVar(&opts.stateBucket, "state-bucket", "", "S3 bucket holding state")
	pf.StringVar(&opts.statePrefix, "state-prefix", "cloudplan", "S3 key prefix for state objects")
	pf.StringVar(&opts.stateRegion, "state-region", "", "S3 state bucket region")
	pf.StringVar(&opts.stateEndpoint, "state-endpoint", "", "S3-compatible endpoint for state")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand(opts))
	rootCmd.AddCommand(newValidateCommand(opts))
	rootCmd.AddCommand(newPlanCommand(opts))
	rootCmd.AddCommand(newApplyCommand(opts))
	rootCmd.AddCommand(newDestroyCommand(opts))
	rootCmd.AddCommand(newOutputCommand(opts))
	rootCmd.AddCommand(newStateCommand(opts))

	return rootCmd
}
