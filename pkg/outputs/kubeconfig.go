package outputs

import (
	"encoding/base64"
	"fmt"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

const execAPIVersion = "client.authentication.k8s.io/v1beta1"

// azureServerID is the application id of the AKS AAD server, fixed for every tenant.
const azureServerID = "6dae42f8-4368-4678-94ff-3960e28e3630"

// KubeconfigOptions controls kubeconfig generation.
type KubeconfigOptions struct {
	// Provider selects the exec credential plugin.
	Provider engine.ProviderKind

	// Region is passed to the AWS plugin. It defaults to the --region of
	// the cluster's kubeconfig command.
	Region string

	// ContextName defaults to the cluster name.
	ContextName string

	// Namespace is the context's default namespace.
	Namespace string
}

// Kubeconfig builds a kubeconfig for the cluster in records. Credentials come
// from the provider CLI's exec plugin so no token is stored.
func Kubeconfig(records []engine.OutputRecord, opts KubeconfigOptions) (*clientcmdapi.Config, error) {
	get := func(key string) (string, error) {
		v, ok := Lookup(records, key)
		if !ok || v == "" {
			return "", engine.NewPermanentError("cluster outputs are missing "+key, nil).
				WithResource(string(engine.KindKubernetesCluster)).WithField(key).WithCode(engine.ErrCodeNotFound)
		}
		return v, nil
	}

	name, err := get(providers.OutClusterName)
	if err != nil {
		return nil, err
	}
	server, err := get(providers.OutClusterEndpoint)
	if err != nil {
		return nil, err
	}
	caEncoded, err := get(providers.OutClusterCA)
	if err != nil {
		return nil, err
	}
	ca, err := base64.StdEncoding.DecodeString(caEncoded)
	if err != nil {
		return nil, fmt.Errorf("cluster certificate authority is not base64: %w", err)
	}
	command, _ := Lookup(records, providers.OutClusterKubeconfigCommand)

	exec, err := execPlugin(opts, name, command)
	if err != nil {
		return nil, err
	}

	contextName := opts.ContextName
	if contextName == "" {
		contextName = name
	}

	cfg := clientcmdapi.NewConfig()
	cluster := clientcmdapi.NewCluster()
	cluster.Server = server
	cluster.CertificateAuthorityData = ca
	cfg.Clusters[name] = cluster

	auth := clientcmdapi.NewAuthInfo()
	auth.Exec = exec
	cfg.AuthInfos[name] = auth

	kctx := clientcmdapi.NewContext()
	kctx.Cluster = name
	kctx.AuthInfo = name
	kctx.Namespace = opts.Namespace
	cfg.Contexts[contextName] = kctx
	cfg.CurrentContext = contextName
	return cfg, nil
}

func execPlugin(opts KubeconfigOptions, clusterName, command string) (*clientcmdapi.ExecConfig, error) {
	exec := &clientcmdapi.ExecConfig{
		APIVersion:      execAPIVersion,
		InteractiveMode: clientcmdapi.IfAvailableExecInteractiveMode,
	}

	switch opts.Provider {
	case engine.ProviderAWS:
		region := opts.Region
		if region == "" {
			region = flagValue(command, "--region")
		}
		exec.Command = "aws"
		exec.Args = []string{"eks", "get-token", "--cluster-name", clusterName}
		if region != "" {
			exec.Args = append(exec.Args, "--region", region)
		}
		exec.InstallHint = "Install the AWS CLI: https://docs.aws.amazon.com/cli/latest/userguide/getting-started-install.html"
	case engine.ProviderAzure:
		exec.Command = "kubelogin"
		exec.Args = []string{"get-token", "--login", "azurecli", "--server-id", azureServerID}
		exec.InstallHint = "Install kubelogin: https://azure.github.io/kubelogin/install.html"
	case engine.ProviderGCP:
		exec.Command = "gke-gcloud-auth-plugin"
		exec.ProvideClusterInfo = true
		exec.InstallHint = "Install gke-gcloud-auth-plugin: gcloud components install gke-gcloud-auth-plugin"
	default:
		return nil, engine.NewConfigError("provider", fmt.Sprintf("no kubeconfig credential plugin for provider %q", opts.Provider))
	}
	return exec, nil
}

// flagValue returns the value following flag in a shell command line.
func flagValue(command, flag string) string {
	fields := strings.Fields(command)
	for i, f := range fields {
		if f == flag && i+1 < len(fields) {
			return fields[i+1]
		}
		if strings.HasPrefix(f, flag+"=") {
			return strings.TrimPrefix(f, flag+"=")
		}
	}
	return ""
}

// WriteKubeconfig writes cfg to path.
func WriteKubeconfig(cfg *clientcmdapi.Config, path string) error {
	if err := clientcmd.WriteToFile(*cfg, path); err != nil {
		return fmt.Errorf("failed to write kubeconfig %s: %w", path, err)
	}
	return nil
}
