// Package azure builds Microsoft Azure resource specs: PostgreSQL and MySQL
// flexible servers, storage accounts, AKS clusters and DNS zones, plus Helm
// releases flavored for AKS.
package azure

import (
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Flavor configures in-cluster releases for AKS.
var Flavor = providers.Flavor{
	Provider:     engine.ProviderAzure,
	StorageClass: "managed-csi",
	LoadBalancerAnnotations: map[string]string{
		"service.beta.kubernetes.io/azure-load-balancer-health-probe-request-path": "/healthz",
	},
	ExternalDNSProvider: "azure",
}

// Builders returns every Azure builder.
func Builders() []providers.Builder {
	builders := []providers.Builder{
		&databaseBuilder{Base: providers.NewBase(engine.KindDatabase, engine.ProviderAzure)},
		&storageBuilder{Base: providers.NewBase(engine.KindObjectStorage, engine.ProviderAzure)},
		&clusterBuilder{Base: providers.NewBase(engine.KindKubernetesCluster, engine.ProviderAzure)},
		&zoneBuilder{Base: providers.NewBase(engine.KindDNSZone, engine.ProviderAzure)},
	}
	return append(builders, providers.HelmBuilders(Flavor)...)
}

// ResourceGroup is the resource group every environment resource lives in.
func ResourceGroup(env engine.Environment) string {
	return providers.ResourceName(env, "rg")
}
