package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/outputs"
)

func newOutputCommand(opts *rootOptions) *cobra.Command {
	var (
		cf            configFlags
		em            emitFlags
		format        string
		showSensitive bool
	)

	cmd := &cobra.Command{
		Use:   "output [key]",
		Short: "Print the unified outputs of an environment",
		Long: `Print the provider-independent outputs of every applied resource.

Keys are the same on every provider, for example database.host or
kubernetes.endpoint. Sensitive values are references to secrets and are
redacted unless --show-sensitive is given.`,
		Example: `  # All outputs as JSON
  cloudplan output -f prod.yaml

  # Shell-friendly environment variables
  cloudplan output --format env

  # One raw value
  cloudplan output database.host`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := outputs.ParseFormat(format)
			if err != nil {
				return engine.NewConfigError("format", err.Error())
			}

			ctx := cmd.Context()
			s, err := newSession(cmd, opts, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.prepare(ctx, &cf)
			if err != nil {
				return err
			}
			records, err := s.ws.Outputs(ctx, p)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				v, ok := outputs.Lookup(records, args[0])
				if !ok {
					return engine.NewConfigError("key", fmt.Sprintf("no output named %q", args[0]))
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}

			if err := outputs.WriteDocument(cmd.OutOrStdout(), records, f, showSensitive); err != nil {
				return err
			}
			return em.emit(p.Environment, records)
		},
	}

	cf.bind(cmd)
	em.bind(cmd)
	cmd.Flags().StringVar(&format, "format", string(outputs.FormatJSON), "output format (json, yaml, env)")
	cmd.Flags().BoolVar(&showSensitive, "show-sensitive", false, "print secret references instead of redacting them")

	return cmd
}
