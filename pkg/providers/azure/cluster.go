package azure

import (
	"fmt"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// AKS attribute names.
const (
	AttrName              = "name"
	AttrKubernetesVersion = "kubernetesVersion"
	AttrDNSPrefix         = "dnsPrefix"
	AttrVnetCIDR          = "vnetCidr"
	AttrVMSize            = "vmSize"
	AttrMinCount          = "minCount"
	AttrMaxCount          = "maxCount"
	AttrNodeCount         = "nodeCount"
	AttrAutoScaling       = "enableAutoScaling"
	AttrPrivateCluster    = "privateClusterEnabled"
	AttrSkuTier           = "skuTier"
	AttrAvailabilityZones = "availabilityZones"
	AttrNetworkPlugin     = "networkPlugin"
)

type clusterBuilder struct {
	providers.Base
}

func (b *clusterBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.Kind())
	size, err := providers.ClusterSizing(opts, env.Tier)
	if err != nil {
		return nil, err
	}
	cidr, err := providers.NetworkCIDR(opts)
	if err != nil {
		return nil, err
	}
	name := providers.ClusterName(opts, env, "aks")
	attrs := map[string]interface{}{
		AttrName:              name,
		AttrResourceGroup:     ResourceGroup(env),
		AttrLocation:          env.Region,
		AttrKubernetesVersion: opts.String(config.OptVersion),
		AttrDNSPrefix:         name,
		AttrVnetCIDR:          cidr,
		AttrVMSize:            providers.StringOr(opts, config.OptNodeInstanceType, providers.TierChoice(env.Tier, "Standard_B2s", "Standard_D2s_v3", "Standard_D4s_v3")),
		AttrMinCount:          size.Min,
		AttrMaxCount:          size.Max,
		AttrNodeCount:         size.Desired,
		AttrAutoScaling:       size.Min != size.Max,
		AttrPrivateCluster:    providers.BoolOr(opts, config.OptPrivateEndpoint, false),
		AttrSkuTier:           providers.TierChoice(env.Tier, "Free", "Standard", "Standard"),
		AttrNetworkPlugin:     "azure",
	}
	if env.Tier == engine.TierProduction {
		attrs[AttrAvailabilityZones] = []string{"1", "2", "3"}
	}
	spec, err := b.NewSpec(cfg, env, attrs, AttrName, AttrResourceGroup, AttrLocation, AttrVnetCIDR, AttrDNSPrefix)
	if err != nil {
		return nil, err
	}
	spec.Warnings = size.Warnings
	return spec, nil
}

func (b *clusterBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	name := s.Raw("name")
	group := s.RawOr("resource_group_name", s.Attr(AttrResourceGroup))
	s.Set(providers.OutClusterName, name)
	s.Set(providers.OutClusterEndpoint, s.Raw("kube_config_host"))
	s.Set(providers.OutClusterVersion, s.Raw("kubernetes_version"))
	s.Set(providers.OutClusterCA, s.Raw("cluster_ca_certificate"))
	s.Set(providers.OutClusterKubeconfigCommand,
		fmt.Sprintf("az aks get-credentials --resource-group %s --name %s", group, name))
	return s.Records()
}
