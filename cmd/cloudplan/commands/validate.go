package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudplan/pkg/providers/builtin"
	"github.com/openfroyo/cloudplan/pkg/telemetry"
	"github.com/openfroyo/cloudplan/pkg/workspace"
)

func newValidateCommand(opts *rootOptions) *cobra.Command {
	var (
		cf      configFlags
		dotFile string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration without touching state",
		Long: `Validate a configuration document.

This command:
  - Parses the YAML, JSON, CUE or Starlark document
  - Resolves option aliases and reports unknown keys
  - Runs every resource builder for the selected provider
  - Assembles the dependency graph and checks it for cycles`,
		Example: `  # Validate the default cloudplan.yaml
  cloudplan validate

  # Validate a CUE document as if it targeted GCP
  cloudplan validate -f env.cue --provider gcp

  # Write the dependency graph for Graphviz
  cloudplan validate --dot graph.dot`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.telemetryConfig(cmd)
			logger, err := telemetry.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Close()

			reg, err := builtin.Default()
			if err != nil {
				return err
			}
			ws := workspace.New(reg, nil, nil, workspace.WithLogger(logger.Zerolog()))

			raw, err := ws.LoadFile(cf.file, cf.overrides())
			if err != nil {
				return err
			}
			p, err := ws.Prepare(cmd.Context(), raw)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			env := p.Environment
			fmt.Fprintf(out, "Configuration is valid: %s (%s, %s, %s), %d resource(s)\n",
				env.Name, env.Provider, env.Tier, env.Region, len(p.Specs))
			for level, ids := range p.Graph.Levels {
				fmt.Fprintf(out, "  level %d: %v\n", level, ids)
			}
			for _, w := range p.Warnings {
				fmt.Fprintf(out, "Warning: %s\n", w)
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(p.Graph.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", dotFile, err)
				}
			}
			return nil
		},
	}

	cf.bind(cmd)
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph in DOT format")

	return cmd
}
