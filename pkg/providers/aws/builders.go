// Package aws builds Amazon Web Services resource specs: RDS databases, S3
// buckets, EKS clusters and Route 53 zones, plus Helm releases flavored for
// EKS.
package aws

import (
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Flavor configures in-cluster releases for EKS.
var Flavor = providers.Flavor{
	Provider:     engine.ProviderAWS,
	StorageClass: "gp3",
	LoadBalancerAnnotations: map[string]string{
		"service.beta.kubernetes.io/aws-load-balancer-type":   "nlb",
		"service.beta.kubernetes.io/aws-load-balancer-scheme": "internet-facing",
	},
	ExternalDNSProvider: "aws",
}

// Builders returns every AWS builder.
func Builders() []providers.Builder {
	builders := []providers.Builder{
		&databaseBuilder{Base: providers.NewBase(engine.KindDatabase, engine.ProviderAWS)},
		&bucketBuilder{Base: providers.NewBase(engine.KindObjectStorage, engine.ProviderAWS)},
		&clusterBuilder{Base: providers.NewBase(engine.KindKubernetesCluster, engine.ProviderAWS)},
		&zoneBuilder{Base: providers.NewBase(engine.KindDNSZone, engine.ProviderAWS)},
	}
	return append(builders, providers.HelmBuilders(Flavor)...)
}
