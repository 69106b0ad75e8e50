package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/state"
)

// defaultRegions seed the starter document when --region is not given.
var defaultRegions = map[engine.ProviderKind]string{
	engine.ProviderAWS:   "us-east-1",
	engine.ProviderAzure: "eastus",
	engine.ProviderGCP:   "us-central1",
}

const yamlTemplate = `# cloudplan environment
environment:
  name: %s
  provider: %s
  tier: %s
  region: %s
  labels:
    owner: %s

database:
  engine: postgres

object_storage: {}
`

const starlarkTemplate = `# cloudplan environment
environment = {
    "name": %q,
    "provider": getenv("CLOUDPLAN_PROVIDER", %q),
    "tier": %q,
    "region": %q,
    "labels": {"owner": %q},
}

database = {"engine": "postgres"}

object_storage = {}
`

func newInitCommand(opts *rootOptions) *cobra.Command {
	var (
		file     string
		name     string
		provider string
		tier     string
		region   string
		owner    string
		format   string
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter configuration and state store",
		Long: `Write a starter configuration document and initialize the state backend.

The document declares a database and an object storage bucket and is
validated before it is written.`,
		Example: `  # YAML starter for a dev environment on AWS
  cloudplan init --name acme-dev

  # Starlark starter for production on GCP
  cloudplan init --name acme-prod --provider gcp --tier production --format star`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if name == "" {
				return engine.NewConfigError("name", "required")
			}
			if region == "" {
				region = defaultRegions[engine.ProviderKind(provider)]
			}
			if owner == "" {
				owner = currentUser()
			}
			if owner == "" {
				owner = "platform"
			}

			var (
				content string
				f       config.Format
			)
			switch strings.ToLower(format) {
			case "yaml", "yml":
				content = fmt.Sprintf(yamlTemplate, name, provider, tier, region, owner)
				f = config.FormatYAML
			case "star", "starlark":
				content = fmt.Sprintf(starlarkTemplate, name, provider, tier, region, owner)
				f = config.FormatStarlark
			default:
				return engine.NewConfigError("format", fmt.Sprintf("unknown format %q (want yaml or star)", format))
			}
			if file == "" {
				file = "cloudplan.yaml"
				if f == config.FormatStarlark {
					file = "cloudplan.star"
				}
			}

			raw, err := config.NewLoader().Parse([]byte(content), f, file)
			if err != nil {
				return err
			}
			c, err := config.Resolve(raw)
			if err != nil {
				return err
			}
			env, err := config.BuildEnvironment(c)
			if err != nil {
				return err
			}

			flags := os.O_CREATE | os.O_WRONLY | os.O_EXCL
			if force {
				flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			}
			out, err := os.OpenFile(file, flags, 0o644)
			if errors.Is(err, fs.ErrExist) {
				return engine.NewConfigError("file", fmt.Sprintf("%s already exists (use --force to overwrite)", file))
			}
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", file, err)
			}
			_, werr := out.WriteString(content)
			if cerr := out.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				return fmt.Errorf("failed to write %s: %w", file, werr)
			}

			backend, err := state.Open(ctx, opts.stateOptions())
			if err != nil {
				return err
			}
			if hc, ok := backend.(state.HealthChecker); ok {
				if err := hc.HealthCheck(ctx); err != nil {
					_ = backend.Close()
					return err
				}
			}
			if err := backend.Close(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Created %s for %s (%s, %s, %s).\n", file, env.Name, env.Provider, env.Tier, env.Region)
			fmt.Fprintf(w, "\nNext steps:\n  cloudplan plan -f %s\n  cloudplan apply -f %s\n", file, file)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "document to write (default cloudplan.yaml or cloudplan.star)")
	cmd.Flags().StringVar(&name, "name", "", "environment name")
	cmd.Flags().StringVar(&provider, "provider", string(engine.ProviderAWS), "cloud provider (aws, azure, gcp)")
	cmd.Flags().StringVar(&tier, "tier", "dev", "tier (dev, staging, production)")
	cmd.Flags().StringVar(&region, "region", "", "region (default depends on the provider)")
	cmd.Flags().StringVar(&owner, "owner", "", "owner label (default the current user)")
	cmd.Flags().StringVar(&format, "format", "yaml", "document format (yaml, star)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing document")

	return cmd
}
