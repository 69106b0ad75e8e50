package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

// runLister is implemented by backends that keep run history.
type runLister interface {
	ListRuns(ctx context.Context, env string, limit int) ([]*engine.Run, error)
}

// eventLister is implemented by backends that keep the event log of each run.
type eventLister interface {
	Events(ctx context.Context, runID string) ([]*engine.Event, error)
}

func newStateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and administer environment state",
		Long: `Inspect and administer the state snapshot of an environment.

The environment is named with --env, or taken from the configuration file.`,
	}

	cmd.AddCommand(newStateShowCommand(opts))
	cmd.AddCommand(newStateUnlockCommand(opts))

	return cmd
}

// environmentName returns --env, or the name resolved from the configuration file.
func environmentName(s *session, cf *configFlags) (string, error) {
	if cf.env != "" {
		return cf.env, nil
	}
	raw, err := s.ws.LoadFile(cf.file, cf.overrides())
	if err != nil {
		return "", err
	}
	c, err := config.Resolve(raw)
	if err != nil {
		return "", err
	}
	env, err := config.BuildEnvironment(c)
	if err != nil {
		return "", err
	}
	return env.Name, nil
}

func newStateShowCommand(opts *rootOptions) *cobra.Command {
	var (
		cf      configFlags
		asJSON  bool
		history int
		events  bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the recorded resources of an environment",
		Example: `  # Resources of the environment in cloudplan.yaml
  cloudplan state show

  # Full snapshot of another environment
  cloudplan state show --env acme-prod --json

  # What happened during the last run
  cloudplan state show --history 1 --events`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			name, err := environmentName(s, &cf)
			if err != nil {
				return err
			}
			snap, version, err := s.backend.Load(ctx, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}

			fmt.Fprintf(out, "Environment %s, serial %d, version %q, lineage %s\n\n", name, snap.Serial, version, snap.Lineage)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tPROVIDER\tPROVIDER ID\tAPPLIED")
			for _, id := range snap.IDs() {
				rs := snap.Resources[id]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", rs.ID, rs.Kind, rs.Provider, rs.ProviderIDs["id"], rs.AppliedAt.Format(time.RFC3339))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			lister, ok := s.backend.(runLister)
			if !ok || (history <= 0 && !events) {
				return nil
			}
			runs, err := lister.ListRuns(ctx, name, max(history, 1))
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				return nil
			}
			if history > 0 {
				fmt.Fprintln(out, "\nRecent runs:")
				tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tMODE\tSTATUS\tAPPLIED\tFAILED\tSTARTED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Mode, r.Status, r.Summary.Applied, r.Summary.Failed, r.StartedAt.Format(time.RFC3339))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
			}

			el, ok := s.backend.(eventLister)
			if !events || !ok {
				return nil
			}
			logged, err := el.Events(ctx, runs[0].ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nEvents of run %s:\n", runs[0].ID)
			tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tRESOURCE\tMESSAGE")
			for _, e := range logged {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), e.Type, e.ResourceID, e.Message)
			}
			return tw.Flush()
		},
	}

	cf.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full snapshot as JSON")
	cmd.Flags().IntVar(&history, "history", 5, "number of recent runs to list when the backend keeps history")
	cmd.Flags().BoolVar(&events, "events", false, "print the event log of the most recent run")

	return cmd
}

func newStateUnlockCommand(opts *rootOptions) *cobra.Command {
	var cf configFlags

	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Release a stale state lock",
		Long: `Release the state lock of an environment regardless of who holds it.

Only use this when the run that took the lock is known to be gone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			name, err := environmentName(s, &cf)
			if err != nil {
				return err
			}
			held, err := s.backend.ForceUnlock(ctx, name)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if held == nil {
				fmt.Fprintf(out, "No lock held on %s.\n", name)
				return nil
			}
			fmt.Fprintf(out, "Released lock on %s held by %s (run %s, %s since %s).\n",
				name, held.Holder, held.RunID, held.Operation, held.CreatedAt.Format(time.RFC3339))
			return nil
		},
	}

	cf.bind(cmd)

	return cmd
}
