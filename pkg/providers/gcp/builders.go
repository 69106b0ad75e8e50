// Package gcp builds Google Cloud resource specs: Cloud SQL instances, GCS
// buckets, GKE clusters and Cloud DNS managed zones, plus Helm releases
// flavored for GKE.
package gcp

import (
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Flavor configures in-cluster releases for GKE.
var Flavor = providers.Flavor{
	Provider:     engine.ProviderGCP,
	StorageClass: "standard-rwo",
	LoadBalancerAnnotations: map[string]string{
		"cloud.google.com/l4-rbs": "enabled",
	},
	ExternalDNSProvider: "google",
}

// Builders returns every GCP builder.
func Builders() []providers.Builder {
	builders := []providers.Builder{
		&databaseBuilder{Base: providers.NewBase(engine.KindDatabase, engine.ProviderGCP)},
		&bucketBuilder{Base: providers.NewBase(engine.KindObjectStorage, engine.ProviderGCP)},
		&clusterBuilder{Base: providers.NewBase(engine.KindKubernetesCluster, engine.ProviderGCP)},
		&zoneBuilder{Base: providers.NewBase(engine.KindDNSZone, engine.ProviderGCP)},
	}
	return append(builders, providers.HelmBuilders(Flavor)...)
}

// Project is the project label, falling back to the environment name.
func Project(env engine.Environment) string {
	if p := env.Labels["project"]; p != "" {
		return p
	}
	return env.Name
}
