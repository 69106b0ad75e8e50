package providers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

type stubBuilder struct {
	Base
}

func (stubBuilder) Build(*config.Canonical, engine.Environment) (*engine.ResourceSpec, error) {
	return &engine.ResourceSpec{}, nil
}

func (stubBuilder) Outputs(engine.ResourceState) ([]engine.OutputRecord, error) {
	return nil, nil
}

func TestRegistry_Select(t *testing.T) {
	r := NewRegistry()
	r.Register(stubBuilder{NewBase(engine.KindDatabase, engine.ProviderAWS)})

	b, err := r.Select(engine.KindDatabase, engine.ProviderAWS)
	require.NoError(t, err)
	assert.Equal(t, engine.KindDatabase, b.Kind())
	assert.Equal(t, engine.ProviderAWS, b.Provider())

	_, err = r.Select(engine.KindDatabase, engine.ProviderGCP)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrUnsupportedCombination))
}

func TestRegistry_RegisterTwicePanics(t *testing.T) {
	r := NewRegistry()
	b := stubBuilder{NewBase(engine.KindDNSZone, engine.ProviderAzure)}
	r.Register(b)
	assert.Panics(t, func() { r.Register(b) })
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_ValidateMatrixListsEveryGap(t *testing.T) {
	r := NewRegistry()
	r.Register(
		stubBuilder{NewBase(engine.KindDatabase, engine.ProviderAWS)},
		stubBuilder{NewBase(engine.KindObjectStorage, engine.ProviderAWS)},
	)

	kinds := []engine.ResourceKind{engine.KindDatabase, engine.KindObjectStorage}
	require.NoError(t, r.ValidateMatrix(kinds, []engine.ProviderKind{engine.ProviderAWS}))

	err := r.ValidateMatrix(kinds, []engine.ProviderKind{engine.ProviderAWS, engine.ProviderGCP})
	var ee *engine.EngineError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, engine.KindUnsupportedCombination, ee.Kind)
	assert.Equal(t, []string{"database/gcp", "object_storage/gcp"}, ee.Details["missing"])
}

func TestSizeGB(t *testing.T) {
	tests := []struct {
		name string
		opts config.Options
		want int
	}{
		{"gb", config.Options{"gb": 12}, 12},
		{"mb exact", config.Options{"mb": 2048}, 2},
		{"mb ceiling", config.Options{"mb": 1}, 1},
		{"gb wins over mb", config.Options{"gb": 4, "mb": 3000}, 4},
		{"fallback", config.Options{}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SizeGB(tt.opts, "gb", "mb", 7))
		})
	}
	assert.Equal(t, 0, CeilMBToGB(0))
	assert.Equal(t, 20, CeilMBToGB(20480))
	assert.Equal(t, 21, CeilMBToGB(20481))
}

func TestCheckSizing(t *testing.T) {
	assert.NoError(t, CheckSizing(config.Options{config.OptStorageMB: 1, config.OptLifecycleDays: 0}, engine.KindDatabase))

	err := CheckSizing(config.Options{config.OptReplicas: 0, config.OptStorageGB: -3}, engine.KindVectorStore)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrConfig))
	assert.Contains(t, err.Error(), "replicas must be positive, got 0")
	assert.Contains(t, err.Error(), "storageGb must be positive, got -3")
}

func TestCompactName(t *testing.T) {
	env := engine.Environment{Name: "acme-production-eu"}
	assert.Equal(t, "acmeproductioneuobjects", CompactName(env, "objects", 24))
	assert.Equal(t, "acmeproductioneuobj", CompactName(env, "objects", 19))
}

func TestOutputSet_MissingRawOutputs(t *testing.T) {
	s := NewOutputSet(engine.ResourceState{
		ID:       "object_storage",
		Provider: engine.ProviderAWS,
		Outputs:  map[string]string{"bucket": "acme-objects"},
	})
	s.Set(OutStorageBucket, s.Raw("bucket"))
	s.Set(OutStorageRegion, s.Raw("region"))

	_, err := s.Records()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "region")
}

func TestOutputSet_SortedAndMarked(t *testing.T) {
	s := NewOutputSet(engine.ResourceState{Outputs: map[string]string{"host": "broker", "secret": "creds"}})
	s.Set(OutBrokerEndpoint, "amqp://"+s.Raw("host")+":5672")
	s.Set(OutBrokerCredentialsRef, s.Raw("secret"))

	records, err := s.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, OutBrokerCredentialsRef, records[0].Key)
	assert.True(t, records[0].Sensitive)
	assert.False(t, records[1].Sensitive)
}
