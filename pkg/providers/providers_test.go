package providers_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/drivers/sim"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
	"github.com/openfroyo/cloudplan/pkg/providers/builtin"
)

func canonical(t *testing.T, sections map[string]interface{}) *config.Canonical {
	t.Helper()
	raw := config.RawConfig{
		"environment": map[string]interface{}{
			"name": "acme-dev", "provider": "aws", "tier": "dev", "region": "us-east-1",
		},
	}
	for k, v := range sections {
		raw[k] = v
	}
	c, err := config.Resolve(raw)
	require.NoError(t, err)
	return c
}

func fullConfig(t *testing.T) *config.Canonical {
	return canonical(t, map[string]interface{}{
		"database":            map[string]interface{}{},
		"object_storage":      map[string]interface{}{},
		"kubernetes_cluster":  map[string]interface{}{},
		"dns_zone":            map[string]interface{}{"domain": "acme.example.com"},
		"message_broker":      map[string]interface{}{},
		"observability_stack": map[string]interface{}{},
		"cluster_addons":      map[string]interface{}{"externalDns": true},
		"vector_store":        map[string]interface{}{},
	})
}

func env(provider engine.ProviderKind, tier engine.Tier) engine.Environment {
	return engine.Environment{
		Name:     "acme-" + string(tier),
		Provider: provider,
		Tier:     tier,
		Region:   "eu-west-1",
		Labels:   map[string]string{"team": "platform", "managed-by": "someone-else"},
	}
}

func registry(t *testing.T) *providers.Registry {
	t.Helper()
	r, err := builtin.Default()
	require.NoError(t, err)
	return r
}

func build(t *testing.T, r *providers.Registry, cfg *config.Canonical, e engine.Environment, kind engine.ResourceKind) (*engine.ResourceSpec, error) {
	t.Helper()
	b, err := r.Select(kind, e.Provider)
	require.NoError(t, err)
	return b.Build(cfg, e)
}

func TestBuilders_EveryKindOnEveryProvider(t *testing.T) {
	r := registry(t)
	cfg := fullConfig(t)

	for _, p := range engine.AllProviders() {
		for _, kind := range engine.AllKinds() {
			t.Run(string(p)+"/"+string(kind), func(t *testing.T) {
				e := env(p, engine.TierStaging)
				spec, err := build(t, r, cfg, e, kind)
				require.NoError(t, err)

				assert.Equal(t, string(kind), spec.ID)
				assert.Equal(t, kind, spec.Kind)
				assert.Equal(t, p, spec.Provider)
				assert.NotEmpty(t, spec.Attributes)
				assert.NotEmpty(t, spec.Immutable)
				for _, name := range spec.Immutable {
					assert.Contains(t, spec.Attributes, name, "immutable attribute must be emitted")
				}

				assert.Equal(t, "acme-staging", spec.Labels["environment"])
				assert.Equal(t, "staging", spec.Labels["tier"])
				assert.Equal(t, providers.ManagedBy, spec.Labels["managed-by"])
				assert.Equal(t, "platform", spec.Labels["team"])
			})
		}
	}
}

func TestBuilders_Deterministic(t *testing.T) {
	r := registry(t)
	cfg := fullConfig(t)

	for _, p := range engine.AllProviders() {
		for _, kind := range engine.AllKinds() {
			e := env(p, engine.TierProduction)
			first, err := build(t, r, cfg, e, kind)
			require.NoError(t, err)
			second, err := build(t, r, cfg, e, kind)
			require.NoError(t, err)
			assert.Equal(t, first, second, "%s/%s", p, kind)
		}
	}
}

func TestDatabase_StorageMBConvertsWithCeiling(t *testing.T) {
	r := registry(t)

	tests := []struct {
		name   string
		opts   map[string]interface{}
		wantGB int
	}{
		{"exact", map[string]interface{}{"storageMb": 20480}, 20},
		{"rounds up", map[string]interface{}{"storageMb": 20481}, 21},
		{"gb wins", map[string]interface{}{"storageMb": 20480, "allocatedStorageGb": 30}, 30},
		{"tier default", map[string]interface{}{}, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := canonical(t, map[string]interface{}{"database": tt.opts})
			spec, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindDatabase)
			require.NoError(t, err)
			assert.Equal(t, tt.wantGB, spec.Attributes["allocatedStorageGb"])
			assert.Equal(t, false, spec.Attributes["multiAz"])
		})
	}
}

func TestDatabase_ProviderNativeHighAvailability(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{"database": map[string]interface{}{"storage_gb": 64}})

	aws, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierProduction), engine.KindDatabase)
	require.NoError(t, err)
	assert.Equal(t, true, aws.Attributes["multiAz"])
	assert.Equal(t, "db.r6g.large", aws.Attributes["instanceClass"])

	azure, err := build(t, r, cfg, env(engine.ProviderAzure, engine.TierProduction), engine.KindDatabase)
	require.NoError(t, err)
	assert.Equal(t, "ZoneRedundant", azure.Attributes["highAvailabilityMode"])
	assert.Equal(t, 64*1024, azure.Attributes["storageMb"])
	assert.Equal(t, 30, azure.Attributes["backupRetentionDays"])

	gcp, err := build(t, r, cfg, env(engine.ProviderGCP, engine.TierProduction), engine.KindDatabase)
	require.NoError(t, err)
	assert.Equal(t, "REGIONAL", gcp.Attributes["availabilityType"])
	assert.Equal(t, "POSTGRES_16", gcp.Attributes["databaseVersion"])
	assert.Equal(t, 64, gcp.Attributes["diskSizeGb"])
}

func TestDatabase_ExplicitFalseOverridesTierDefault(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{"database": map[string]interface{}{"multi_az": false}})

	spec, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierProduction), engine.KindDatabase)
	require.NoError(t, err)
	assert.Equal(t, false, spec.Attributes["multiAz"])
}

func TestDatabase_AzureBackupRetentionClamped(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{"database": map[string]interface{}{}})

	spec, err := build(t, r, cfg, env(engine.ProviderAzure, engine.TierDev), engine.KindDatabase)
	require.NoError(t, err)
	assert.Equal(t, 7, spec.Attributes["backupRetentionDays"])
	assert.Equal(t, "B_Standard_B1ms", spec.Attributes["skuName"])
}

func TestDatabase_UnsupportedEngine(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{"database": map[string]interface{}{"engine": "oracle"}})

	_, err := build(t, r, cfg, env(engine.ProviderGCP, engine.TierDev), engine.KindDatabase)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrConfig))

	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "database.engine", ee.Field)
}

func TestCluster_ProductionMinimumNodes(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{
		"kubernetes_cluster": map[string]interface{}{"min_nodes": 1, "max_nodes": 4, "desired_nodes": 1},
	})

	minAttr := map[engine.ProviderKind]string{
		engine.ProviderAWS:   "minNodes",
		engine.ProviderAzure: "minCount",
		engine.ProviderGCP:   "minNodeCount",
	}
	desiredAttr := map[engine.ProviderKind]string{
		engine.ProviderAWS:   "desiredNodes",
		engine.ProviderAzure: "nodeCount",
		engine.ProviderGCP:   "initialNodeCount",
	}

	for _, p := range engine.AllProviders() {
		t.Run(string(p), func(t *testing.T) {
			spec, err := build(t, r, cfg, env(p, engine.TierProduction), engine.KindKubernetesCluster)
			require.NoError(t, err)
			assert.Equal(t, providers.ProductionMinNodes, spec.Attributes[minAttr[p]])
			assert.Equal(t, providers.ProductionMinNodes, spec.Attributes[desiredAttr[p]])
			require.Len(t, spec.Warnings, 1)
			assert.Contains(t, spec.Warnings[0], "minNodes raised from 1 to 2")
		})
	}
}

func TestCluster_MinAboveMax(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{
		"kubernetes_cluster": map[string]interface{}{"minNodes": 5, "maxNodes": 2},
	})

	_, err := build(t, r, cfg, env(engine.ProviderAzure, engine.TierStaging), engine.KindKubernetesCluster)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engine.KindConfig, ee.Kind)
	assert.Equal(t, "kubernetes_cluster.minNodes", ee.Field)
}

func TestDatabase_NegativeStorageRejected(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{"database": map[string]interface{}{"storageMb": -5}})

	for _, p := range engine.AllProviders() {
		t.Run(string(p), func(t *testing.T) {
			_, err := build(t, r, cfg, env(p, engine.TierDev), engine.KindDatabase)
			var ee *engine.EngineError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, engine.KindConfig, ee.Kind)
			assert.Equal(t, "database.storageMb", ee.Field)
		})
	}
}

func TestCluster_NonPositiveCountRejected(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{
		"kubernetes_cluster": map[string]interface{}{"maxNodes": -1},
	})

	_, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindKubernetesCluster)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "kubernetes_cluster.maxNodes", ee.Field)
}

func TestCluster_InvalidCIDR(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{
		"kubernetes_cluster": map[string]interface{}{"vpc_cidr": "10.0.0.0/33"},
	})

	_, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindKubernetesCluster)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "kubernetes_cluster.networkCidr", ee.Field)
}

func TestDNS_DomainRequired(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{"dns_zone": map[string]interface{}{}})

	_, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindDNSZone)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "dns_zone.domain", ee.Field)
}

func TestDependsOn_MustNameEnabledResource(t *testing.T) {
	r := registry(t)

	cfg := canonical(t, map[string]interface{}{
		"object_storage": map[string]interface{}{"dependsOn": []interface{}{"database"}},
	})
	_, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindObjectStorage)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "object_storage.dependsOn", ee.Field)

	cfg = canonical(t, map[string]interface{}{
		"object_storage": map[string]interface{}{"depends_on": "database"},
		"database":       map[string]interface{}{},
	})
	spec, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindObjectStorage)
	require.NoError(t, err)
	assert.Equal(t, []string{"database"}, spec.DependsOn)

	cfg = canonical(t, map[string]interface{}{
		"object_storage": map[string]interface{}{"dependsOn": "queue"},
	})
	_, err = build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindObjectStorage)
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engine.ErrCodeInvalidValue, ee.Code)
}

func TestClusterDependentKindsRequireCluster(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{
		"message_broker":      map[string]interface{}{},
		"observability_stack": map[string]interface{}{},
		"cluster_addons":      map[string]interface{}{},
		"vector_store":        map[string]interface{}{},
	})

	for _, kind := range engine.AllKinds() {
		if !kind.ClusterDependent() {
			continue
		}
		_, err := build(t, r, cfg, env(engine.ProviderGCP, engine.TierDev), kind)
		var ee *engine.EngineError
		require.ErrorAs(t, err, &ee, string(kind))
		assert.Equal(t, string(engine.KindKubernetesCluster), ee.Field)
	}
}

func TestAddons_ExternalDNS(t *testing.T) {
	r := registry(t)

	cfg := canonical(t, map[string]interface{}{
		"kubernetes_cluster": map[string]interface{}{},
		"cluster_addons":     map[string]interface{}{"external_dns": true},
	})
	_, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindClusterAddons)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "cluster_addons.externalDns", ee.Field)

	for _, p := range engine.AllProviders() {
		spec, err := build(t, r, fullConfig(t), env(p, engine.TierDev), engine.KindClusterAddons)
		require.NoError(t, err)
		assert.True(t, engine.ExternalDNSEnabled(spec))
		assert.Equal(t, "nginx", spec.Attributes[providers.AttrIngressClass])

		releases, ok := spec.Attributes[providers.AttrAdditionalReleases].([]interface{})
		require.True(t, ok)
		require.Len(t, releases, 1, "dev installs external-dns only")
		extDNS := releases[0].(map[string]interface{})
		assert.Equal(t, providers.ExternalDNSChart, extDNS[providers.AttrChart])
	}
}

func TestHelm_ReleasesUseProviderStorageClass(t *testing.T) {
	r := registry(t)
	cfg := fullConfig(t)

	want := map[engine.ProviderKind]string{
		engine.ProviderAWS:   "gp3",
		engine.ProviderAzure: "managed-csi",
		engine.ProviderGCP:   "standard-rwo",
	}
	for p, class := range want {
		spec, err := build(t, r, cfg, env(p, engine.TierDev), engine.KindMessageBroker)
		require.NoError(t, err)
		assert.Equal(t, providers.RabbitMQChart, spec.Attributes[providers.AttrChart])
		assert.Equal(t, "messaging", spec.Attributes[providers.AttrNamespace])
		values := spec.Attributes[providers.AttrValues].(map[string]interface{})
		persistence := values["persistence"].(map[string]interface{})
		assert.Equal(t, class, persistence["storageClass"])
		assert.Equal(t, "8Gi", persistence["size"])
	}
}

func TestHelm_UnsupportedEngine(t *testing.T) {
	r := registry(t)
	cfg := canonical(t, map[string]interface{}{
		"kubernetes_cluster": map[string]interface{}{},
		"vector_store":       map[string]interface{}{"engine": "weaviate"},
	})

	_, err := build(t, r, cfg, env(engine.ProviderAWS, engine.TierDev), engine.KindVectorStore)
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "vector_store.engine", ee.Field)
}

func TestOutputs_CoverRequiredKeysAfterSimulatedApply(t *testing.T) {
	r := registry(t)
	cfg := fullConfig(t)
	driver := sim.New()

	for _, p := range engine.AllProviders() {
		for _, kind := range engine.AllKinds() {
			t.Run(string(p)+"/"+string(kind), func(t *testing.T) {
				b, err := r.Select(kind, p)
				require.NoError(t, err)
				spec, err := b.Build(cfg, env(p, engine.TierProduction))
				require.NoError(t, err)

				res, err := driver.Create(context.Background(), spec)
				require.NoError(t, err)
				records, err := b.Outputs(engine.ResourceState{
					ID:         spec.ID,
					Kind:       spec.Kind,
					Provider:   spec.Provider,
					Attributes: spec.Attributes,
					Outputs:    res.Outputs,
				})
				require.NoError(t, err)

				var keys []string
				for _, rec := range records {
					keys = append(keys, rec.Key)
					assert.NotEmpty(t, rec.Value, rec.Key)
					assert.Equal(t, providers.IsSensitive(rec.Key), rec.Sensitive, rec.Key)
				}
				want := providers.RequiredOutputKeys(kind)
				sort.Strings(want)
				assert.Equal(t, want, keys)
			})
		}
	}
}

func TestOutputs_ProviderShapes(t *testing.T) {
	r := registry(t)
	cfg := fullConfig(t)
	driver := sim.New()

	outputs := func(p engine.ProviderKind, kind engine.ResourceKind) map[string]string {
		b, err := r.Select(kind, p)
		require.NoError(t, err)
		spec, err := b.Build(cfg, env(p, engine.TierDev))
		require.NoError(t, err)
		res, err := driver.Create(context.Background(), spec)
		require.NoError(t, err)
		records, err := b.Outputs(engine.ResourceState{ID: spec.ID, Kind: kind, Provider: p, Attributes: spec.Attributes, Outputs: res.Outputs})
		require.NoError(t, err)
		m := make(map[string]string)
		for _, rec := range records {
			m[rec.Key] = rec.Value
		}
		return m
	}

	aws := outputs(engine.ProviderAWS, engine.KindKubernetesCluster)
	assert.Equal(t, "aws eks update-kubeconfig --name acme-dev-eks --region eu-west-1", aws[providers.OutClusterKubeconfigCommand])

	azure := outputs(engine.ProviderAzure, engine.KindKubernetesCluster)
	assert.Equal(t, "az aks get-credentials --resource-group acme-dev-rg --name acme-dev-aks", azure[providers.OutClusterKubeconfigCommand])

	gcp := outputs(engine.ProviderGCP, engine.KindObjectStorage)
	assert.Equal(t, "https://storage.googleapis.com/acme-dev-objects", gcp[providers.OutStorageEndpoint])

	broker := outputs(engine.ProviderGCP, engine.KindMessageBroker)
	assert.Equal(t, "amqp://acme-dev-rabbitmq.messaging.svc.cluster.local:5672", broker[providers.OutBrokerEndpoint])
	assert.Equal(t, "secret://messaging/acme-dev-rabbitmq-credentials", broker[providers.OutBrokerCredentialsRef])

	addons := outputs(engine.ProviderAzure, engine.KindClusterAddons)
	assert.Equal(t, "true", addons[providers.OutAddonsExternalDNSEnabled])
	assert.Equal(t, "nginx", addons[providers.OutAddonsIngressClass])
}
