package outputs_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/drivers/sim"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/outputs"
	"github.com/openfroyo/cloudplan/pkg/providers"
	"github.com/openfroyo/cloudplan/pkg/providers/builtin"
)

func fullConfig(t *testing.T) *config.Canonical {
	t.Helper()
	c, err := config.Resolve(config.RawConfig{
		"environment":         map[string]interface{}{"name": "acme-dev", "provider": "aws", "tier": "dev", "region": "eu-west-1"},
		"database":            map[string]interface{}{},
		"object_storage":      map[string]interface{}{},
		"kubernetes_cluster":  map[string]interface{}{},
		"dns_zone":            map[string]interface{}{"domain": "acme.example.com"},
		"message_broker":      map[string]interface{}{},
		"observability_stack": map[string]interface{}{},
		"cluster_addons":      map[string]interface{}{"externalDns": true},
		"vector_store":        map[string]interface{}{},
	})
	require.NoError(t, err)
	return c
}

// applied builds every kind for provider and records simulated results in a snapshot.
func applied(t *testing.T, provider engine.ProviderKind) (*engine.DependencyGraph, *engine.StateSnapshot, *providers.Registry) {
	t.Helper()
	reg, err := builtin.Default()
	require.NoError(t, err)

	cfg := fullConfig(t)
	env := engine.Environment{Name: "acme-dev", Provider: provider, Tier: engine.TierDev, Region: "eu-west-1"}
	driver := sim.New()
	snap := engine.NewStateSnapshot(env.Name)

	var specs []*engine.ResourceSpec
	for _, kind := range engine.AllKinds() {
		b, err := reg.Select(kind, provider)
		require.NoError(t, err)
		spec, err := b.Build(cfg, env)
		require.NoError(t, err)
		specs = append(specs, spec)

		res, err := driver.Create(context.Background(), spec)
		require.NoError(t, err)
		snap.Resources[spec.ID] = &engine.ResourceState{
			ID:          spec.ID,
			Kind:        spec.Kind,
			Provider:    spec.Provider,
			Attributes:  spec.Attributes,
			ProviderIDs: res.ProviderIDs,
			Outputs:     res.Outputs,
		}
	}

	graph, err := engine.Assemble(specs)
	require.NoError(t, err)
	return graph, snap, reg
}

func TestUnify_FixedKeySetOnEveryProvider(t *testing.T) {
	var want []string
	for _, kind := range engine.AllKinds() {
		want = append(want, providers.RequiredOutputKeys(kind)...)
	}

	for _, p := range engine.AllProviders() {
		t.Run(string(p), func(t *testing.T) {
			graph, snap, reg := applied(t, p)
			records, err := outputs.Unify(graph, snap, reg)
			require.NoError(t, err)

			var keys []string
			for _, r := range records {
				keys = append(keys, r.Key)
				assert.NotEmpty(t, r.Value, r.Key)
			}
			assert.ElementsMatch(t, want, keys)
			assert.IsIncreasing(t, keys)
		})
	}
}

func TestUnify_SkipsUnappliedResources(t *testing.T) {
	graph, snap, reg := applied(t, engine.ProviderGCP)
	delete(snap.Resources, string(engine.KindVectorStore))

	records, err := outputs.Unify(graph, snap, reg)
	require.NoError(t, err)
	_, ok := outputs.Lookup(records, providers.OutVectorEndpoint)
	assert.False(t, ok)
	_, ok = outputs.Lookup(records, providers.OutDatabaseHost)
	assert.True(t, ok)
}

func TestUnify_NilGraphUsesSnapshot(t *testing.T) {
	graph, snap, reg := applied(t, engine.ProviderAzure)
	fromGraph, err := outputs.Unify(graph, snap, reg)
	require.NoError(t, err)
	fromState, err := outputs.Unify(nil, snap, reg)
	require.NoError(t, err)
	assert.Equal(t, fromGraph, fromState)
}

func TestUnify_MissingRawOutputFails(t *testing.T) {
	graph, snap, reg := applied(t, engine.ProviderAWS)
	db := *snap.Resources[string(engine.KindDatabase)]
	db.Outputs = map[string]string{"port": "5432"}
	snap.Resources[db.ID] = &db

	_, err := outputs.Unify(graph, snap, reg)
	require.Error(t, err)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, string(engine.KindDatabase), ee.Resource)
}

func TestWriteDocument_RedactsSensitiveValues(t *testing.T) {
	records := []engine.OutputRecord{
		{Key: "database.host", Value: "db.internal"},
		{Key: "database.passwordRef", Value: "arn:aws:secretsmanager:eu-west-1:1:secret:db", Sensitive: true},
	}

	var buf bytes.Buffer
	require.NoError(t, outputs.WriteDocument(&buf, records, outputs.FormatJSON, false))
	var doc map[string]struct {
		Value     string `json:"value"`
		Sensitive bool   `json:"sensitive"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "db.internal", doc["database.host"].Value)
	assert.Equal(t, outputs.Redacted, doc["database.passwordRef"].Value)
	assert.True(t, doc["database.passwordRef"].Sensitive)

	buf.Reset()
	require.NoError(t, outputs.WriteDocument(&buf, records, outputs.FormatYAML, true))
	var ydoc map[string]map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &ydoc))
	assert.Equal(t, "arn:aws:secretsmanager:eu-west-1:1:secret:db", ydoc["database.passwordRef"]["value"])

	buf.Reset()
	require.NoError(t, outputs.WriteDocument(&buf, records, outputs.FormatEnv, false))
	assert.Equal(t, "DATABASE_HOST=db.internal\nDATABASE_PASSWORD_REF='<sensitive>'\n", buf.String())
}

func TestParseFormat(t *testing.T) {
	f, err := outputs.ParseFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, outputs.FormatYAML, f)

	_, err = outputs.ParseFormat("toml")
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	tests := map[string]string{
		"database.host":                "DATABASE_HOST",
		"vectorStore.apiKeyRef":        "VECTOR_STORE_API_KEY_REF",
		"addons.externalDnsEnabled":    "ADDONS_EXTERNAL_DNS_ENABLED",
		"cluster.certificateAuthority": "CLUSTER_CERTIFICATE_AUTHORITY",
		"dns.zoneId":                   "DNS_ZONE_ID",
	}
	for key, want := range tests {
		assert.Equal(t, want, outputs.EnvName(key), key)
	}
}

func TestHelmValues_NestsDottedKeys(t *testing.T) {
	values, err := outputs.HelmValues([]engine.OutputRecord{
		{Key: "database.host", Value: "db.internal"},
		{Key: "database.port", Value: "5432"},
		{Key: "addons.externalDnsEnabled", Value: "true"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"database": map[string]interface{}{"host": "db.internal", "port": "5432"},
		"addons":   map[string]interface{}{"externalDnsEnabled": true},
	}, values)
}

func TestHelmValues_Conflict(t *testing.T) {
	_, err := outputs.HelmValues([]engine.OutputRecord{
		{Key: "database", Value: "x"},
		{Key: "database.host", Value: "db.internal"},
	})
	assert.Error(t, err)
}

func TestWriteHelmValuesFile_CoalescesExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "values.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join([]string{
		"replicaCount: 3",
		"database:",
		"  host: stale.example.com",
		"  pool: 10",
		"",
	}, "\n")), 0o600))

	require.NoError(t, outputs.WriteHelmValuesFile(path, []engine.OutputRecord{
		{Key: "database.host", Value: "db.internal"},
		{Key: "storage.bucket", Value: "acme-dev-objects"},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got map[string]interface{}
	require.NoError(t, yaml.Unmarshal(data, &got))

	assert.Equal(t, 3, got["replicaCount"])
	db := got["database"].(map[string]interface{})
	assert.Equal(t, "db.internal", db["host"])
	assert.Equal(t, 10, db["pool"])
	assert.Equal(t, "acme-dev-objects", got["storage"].(map[string]interface{})["bucket"])
}

func TestMergeHelmValuesFile_MissingFile(t *testing.T) {
	merged, err := outputs.MergeHelmValuesFile(filepath.Join(t.TempDir(), "absent.yaml"),
		[]engine.OutputRecord{{Key: "cluster.name", Value: "acme-dev-eks"}})
	require.NoError(t, err)
	assert.Equal(t, "acme-dev-eks", merged["cluster"].(map[string]interface{})["name"])
}

func TestKubeconfig_ExecPluginPerProvider(t *testing.T) {
	tests := []struct {
		provider engine.ProviderKind
		command  string
		args     []string
	}{
		{engine.ProviderAWS, "aws", []string{"eks", "get-token", "--cluster-name", "acme-dev-eks", "--region", "eu-west-1"}},
		{engine.ProviderAzure, "kubelogin", []string{"get-token", "--login", "azurecli", "--server-id", "6dae42f8-4368-4678-94ff-3960e28e3630"}},
		{engine.ProviderGCP, "gke-gcloud-auth-plugin", nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			graph, snap, reg := applied(t, tt.provider)
			records, err := outputs.Unify(graph, snap, reg)
			require.NoError(t, err)

			cfg, err := outputs.Kubeconfig(records, outputs.KubeconfigOptions{Provider: tt.provider, Namespace: "apps"})
			require.NoError(t, err)

			name, _ := outputs.Lookup(records, providers.OutClusterName)
			endpoint, _ := outputs.Lookup(records, providers.OutClusterEndpoint)
			ca, _ := outputs.Lookup(records, providers.OutClusterCA)

			require.Contains(t, cfg.Clusters, name)
			assert.Equal(t, endpoint, cfg.Clusters[name].Server)
			wantCA, err := base64.StdEncoding.DecodeString(ca)
			require.NoError(t, err)
			assert.Equal(t, wantCA, cfg.Clusters[name].CertificateAuthorityData)

			assert.Equal(t, name, cfg.CurrentContext)
			assert.Equal(t, "apps", cfg.Contexts[name].Namespace)

			exec := cfg.AuthInfos[name].Exec
			require.NotNil(t, exec)
			assert.Equal(t, tt.command, exec.Command)
			if tt.args != nil {
				assert.Equal(t, tt.args, exec.Args)
			}
			assert.Equal(t, "client.authentication.k8s.io/v1beta1", exec.APIVersion)
		})
	}
}

func TestKubeconfig_WriteAndLoad(t *testing.T) {
	graph, snap, reg := applied(t, engine.ProviderGCP)
	records, err := outputs.Unify(graph, snap, reg)
	require.NoError(t, err)
	cfg, err := outputs.Kubeconfig(records, outputs.KubeconfigOptions{Provider: engine.ProviderGCP, ContextName: "acme"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, outputs.WriteKubeconfig(cfg, path))

	loaded, err := clientcmd.LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", loaded.CurrentContext)
	assert.True(t, loaded.AuthInfos[loaded.Contexts["acme"].AuthInfo].Exec.ProvideClusterInfo)
}

func TestKubeconfig_RequiresClusterOutputs(t *testing.T) {
	_, err := outputs.Kubeconfig([]engine.OutputRecord{{Key: "cluster.name", Value: "x"}},
		outputs.KubeconfigOptions{Provider: engine.ProviderAWS})
	require.Error(t, err)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, providers.OutClusterEndpoint, ee.Field)
}
