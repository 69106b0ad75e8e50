package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newPlanCommand(opts *rootOptions) *cobra.Command {
	var (
		cf      configFlags
		ef      engineFlags
		outFile string
		dotFile string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change",
		Long: `Compute an execution plan by diffing the built resources against state.

The plan:
  - Resolves and builds the configuration
  - Diffs every resource against the recorded state (or live state with --refresh)
  - Evaluates the guardrail policies
  - Never takes the state lock and never changes anything`,
		Example: `  # Show the plan
  cloudplan plan -f prod.yaml

  # Save the plan and its execution graph
  cloudplan plan --out plan.json --dot plan.dot

  # Plan against live resources
  cloudplan plan --refresh --driver aws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(cmd, opts, &ef)
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.prepare(ctx, &cf)
			if err != nil {
				return err
			}
			plan, err := s.ws.Plan(ctx, p)
			if err != nil {
				return err
			}
			renderPlan(cmd.OutOrStdout(), plan)

			if outFile != "" {
				if err := writeJSONFile(outFile, plan); err != nil {
					return err
				}
			}
			if dotFile != "" {
				graph := plan.Graph
				if graph == nil {
					graph = p.Graph
				}
				if err := os.WriteFile(dotFile, []byte(graph.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", dotFile, err)
				}
			}
			return nil
		},
	}

	cf.bind(cmd)
	ef.bind(cmd, false)
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan as JSON")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the execution graph in DOT format")

	return cmd
}
