package drivers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/cloudplan/pkg/drivers/sim"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

// writeOnly is a driver without live reads.
type writeOnly struct {
	creates int
}

func (w *writeOnly) Create(context.Context, *engine.ResourceSpec) (*engine.ProviderResult, error) {
	w.creates++
	return &engine.ProviderResult{}, nil
}

func (w *writeOnly) Update(context.Context, *engine.ResourceSpec, *engine.ResourceState) (*engine.ProviderResult, error) {
	return &engine.ProviderResult{}, nil
}

func (w *writeOnly) Delete(context.Context, *engine.ResourceState) error { return nil }

func TestRouter_RoutesByKindAndProvider(t *testing.T) {
	fallback := sim.New()
	buckets := &writeOnly{}
	r := NewRouter(fallback).Route(engine.KindObjectStorage, engine.ProviderAWS, buckets)

	ctx := context.Background()
	_, err := r.Create(ctx, &engine.ResourceSpec{ID: "object_storage", Kind: engine.KindObjectStorage, Provider: engine.ProviderAWS})
	require.NoError(t, err)
	assert.Equal(t, 1, buckets.creates)

	_, err = r.Create(ctx, &engine.ResourceSpec{
		ID:         "object_storage",
		Kind:       engine.KindObjectStorage,
		Provider:   engine.ProviderGCP,
		Attributes: map[string]interface{}{"name": "acme-objects"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, buckets.creates)
	assert.Equal(t, 1, fallback.CallCount(sim.OpCreate, "object_storage"))
}

func TestRouter_NoRoute(t *testing.T) {
	r := NewRouter(nil)
	_, err := r.Create(context.Background(), &engine.ResourceSpec{ID: "database", Kind: engine.KindDatabase, Provider: engine.ProviderAzure})
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrUnsupportedCombination))
}

func TestRouter_ReadWithoutReader(t *testing.T) {
	r := NewRouter(nil).Route(engine.KindDNSZone, engine.ProviderAWS, &writeOnly{})
	prior := &engine.ResourceState{ID: "dns_zone", Kind: engine.KindDNSZone, Provider: engine.ProviderAWS}

	live, err := r.Read(context.Background(), prior)
	require.NoError(t, err)
	assert.Same(t, prior, live)
}

func TestRouter_DeleteUsesRecordedProvider(t *testing.T) {
	fallback := sim.New()
	r := NewRouter(fallback).Route(engine.KindDatabase, engine.ProviderAWS, &writeOnly{})

	err := r.Delete(context.Background(), &engine.ResourceState{ID: "database", Kind: engine.KindDatabase, Provider: engine.ProviderGCP})
	require.NoError(t, err)
	assert.Equal(t, 1, fallback.CallCount(sim.OpDelete, "database"))
}
