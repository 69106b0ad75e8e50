package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/outputs"
)

// emitFlags name the files written from outputs after an apply.
type emitFlags struct {
	outputsFile string
	helmValues  string
	kubeconfig  string
}

func (f *emitFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.outputsFile, "outputs-file", "", "write outputs to this file (.json, .yaml or .env)")
	cmd.Flags().StringVar(&f.helmValues, "helm-values", "", "merge outputs into this Helm values file")
	cmd.Flags().StringVar(&f.kubeconfig, "kubeconfig", "", "write a kubeconfig for the cluster to this path")
}

func (f *emitFlags) emit(env engine.Environment, records []engine.OutputRecord) error {
	if f.outputsFile != "" {
		format := outputs.FormatJSON
		if ext := strings.TrimPrefix(filepath.Ext(f.outputsFile), "."); ext != "" {
			parsed, err := outputs.ParseFormat(ext)
			if err != nil {
				return engine.NewConfigError("outputs-file", err.Error())
			}
			format = parsed
		}
		file, err := os.OpenFile(f.outputsFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", f.outputsFile, err)
		}
		werr := outputs.WriteDocument(file, records, format, true)
		if cerr := file.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("failed to write %s: %w", f.outputsFile, werr)
		}
	}

	if f.helmValues != "" {
		if err := outputs.WriteHelmValuesFile(f.helmValues, records); err != nil {
			return err
		}
	}

	if f.kubeconfig != "" {
		cfg, err := outputs.Kubeconfig(records, outputs.KubeconfigOptions{Provider: env.Provider, Region: env.Region})
		if err != nil {
			return err
		}
		if err := outputs.WriteKubeconfig(cfg, f.kubeconfig); err != nil {
			return err
		}
	}
	return nil
}

func newApplyCommand(opts *rootOptions) *cobra.Command {
	var (
		cf configFlags
		ef engineFlags
		em emitFlags
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge an environment to its configuration",
		Long: `Plan and apply a configuration.

This command:
  - Takes the environment's state lock for the whole run
  - Computes the plan and evaluates the guardrail policies
  - Prompts for approval (unless --auto-approve)
  - Applies units in dependency order with a fixed worker pool
  - Records every completed unit in state, even when others fail
  - Writes outputs, Helm values and a kubeconfig when requested`,
		Example: `  # Apply with approval prompt
  cloudplan apply -f prod.yaml

  # Auto-approve with limited parallelism
  cloudplan apply --auto-approve --parallelism 2

  # Apply and hand outputs to Helm and kubectl
  cloudplan apply --auto-approve --helm-values values.yaml --kubeconfig kubeconfig`,
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
			res, runErr := s.ws.Apply(ctx, p)
			if res.Run != nil && len(res.Run.Results) > 0 {
				renderRun(cmd.OutOrStdout(), res.Run)
			}
			if len(res.Outputs) > 0 {
				if err := em.emit(p.Environment, res.Outputs); err != nil {
					if runErr == nil {
						return err
					}
					s.logger.Warn().Err(err).Msg("Could not write outputs")
				}
			}
			return runErr
		},
	}

	cf.bind(cmd)
	ef.bind(cmd, true)
	em.bind(cmd)

	return cmd
}

func newDestroyCommand(opts *rootOptions) *cobra.Command {
	var (
		cf configFlags
		ef engineFlags
	)

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete every resource recorded for an environment",
		Long: `Destroy an environment.

Resources are deleted in reverse dependency order using only what state
records. Destroying a production environment requires --allow-destroy.`,
		Example: `  # Destroy with approval prompt
  cloudplan destroy -f dev.yaml

  # Destroy production
  cloudplan destroy -f prod.yaml --allow-destroy --auto-approve`,
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
			run, err := s.ws.Destroy(ctx, p)
			if run != nil && len(run.Results) > 0 {
				renderRun(cmd.OutOrStdout(), run)
			}
			return err
		},
	}

	cf.bind(cmd)
	ef.bind(cmd, true)

	return cmd
}
