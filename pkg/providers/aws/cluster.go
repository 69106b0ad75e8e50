package aws

import (
	"fmt"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// EKS attribute names.
const (
	AttrName                  = "name"
	AttrVersion               = "version"
	AttrVpcCIDR               = "vpcCidr"
	AttrNodeInstanceType      = "nodeInstanceType"
	AttrMinNodes              = "minNodes"
	AttrMaxNodes              = "maxNodes"
	AttrDesiredNodes          = "desiredNodes"
	AttrEndpointPrivateAccess = "endpointPrivateAccess"
	AttrEndpointPublicAccess  = "endpointPublicAccess"
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
	private := providers.BoolOr(opts, config.OptPrivateEndpoint, env.Tier == engine.TierProduction)
	attrs := map[string]interface{}{
		AttrName:                  providers.ClusterName(opts, env, "eks"),
		AttrVersion:               opts.String(config.OptVersion),
		AttrRegion:                env.Region,
		AttrVpcCIDR:               cidr,
		AttrNodeInstanceType:      providers.StringOr(opts, config.OptNodeInstanceType, providers.TierChoice(env.Tier, "t3.medium", "t3.large", "m5.xlarge")),
		AttrMinNodes:              size.Min,
		AttrMaxNodes:              size.Max,
		AttrDesiredNodes:          size.Desired,
		AttrEndpointPrivateAccess: true,
		AttrEndpointPublicAccess:  !private,
	}
	spec, err := b.NewSpec(cfg, env, attrs, AttrName, AttrRegion, AttrVpcCIDR)
	if err != nil {
		return nil, err
	}
	spec.Warnings = size.Warnings
	return spec, nil
}

func (b *clusterBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	name := s.Raw("name")
	s.Set(providers.OutClusterName, name)
	s.Set(providers.OutClusterEndpoint, s.Raw("endpoint"))
	s.Set(providers.OutClusterVersion, s.Raw("version"))
	s.Set(providers.OutClusterCA, s.Raw("certificate_authority_data"))
	s.Set(providers.OutClusterKubeconfigCommand,
		fmt.Sprintf("aws eks update-kubeconfig --name %s --region %s", name, s.Attr(AttrRegion)))
	return s.Records()
}
