package gcp

import (
	"fmt"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// GKE attribute names.
const (
	AttrMinVersion       = "minMasterVersion"
	AttrReleaseChannel   = "releaseChannel"
	AttrMachineType      = "machineType"
	AttrMinNodeCount     = "minNodeCount"
	AttrMaxNodeCount     = "maxNodeCount"
	AttrInitialNodeCount = "initialNodeCount"
	AttrSubnetCIDR       = "subnetCidr"
	AttrPrivateNodes     = "enablePrivateNodes"
	AttrPrivateEndpoint  = "enablePrivateEndpoint"
	AttrWorkloadPool     = "workloadPool"
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
	project := Project(env)
	attrs := map[string]interface{}{
		AttrName:             providers.ClusterName(opts, env, "gke"),
		AttrLocation:         env.Region,
		AttrProject:          project,
		AttrMinVersion:       opts.String(config.OptVersion),
		AttrReleaseChannel:   providers.TierChoice(env.Tier, "RAPID", "REGULAR", "STABLE"),
		AttrMachineType:      providers.StringOr(opts, config.OptNodeInstanceType, providers.TierChoice(env.Tier, "e2-medium", "e2-standard-2", "e2-standard-4")),
		AttrMinNodeCount:     size.Min,
		AttrMaxNodeCount:     size.Max,
		AttrInitialNodeCount: size.Desired,
		AttrSubnetCIDR:       cidr,
		AttrPrivateNodes:     true,
		AttrPrivateEndpoint:  providers.BoolOr(opts, config.OptPrivateEndpoint, false),
		AttrWorkloadPool:     project + ".svc.id.goog",
	}
	spec, err := b.NewSpec(cfg, env, attrs, AttrName, AttrLocation, AttrProject, AttrSubnetCIDR)
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
	s.Set(providers.OutClusterEndpoint, "https://"+s.Raw("endpoint"))
	s.Set(providers.OutClusterVersion, s.Raw("master_version"))
	s.Set(providers.OutClusterCA, s.Raw("cluster_ca_certificate"))
	s.Set(providers.OutClusterKubeconfigCommand, fmt.Sprintf(
		"gcloud container clusters get-credentials %s --region %s --project %s",
		name, s.RawOr("location", s.Attr(AttrLocation)), s.RawOr("project", s.Attr(AttrProject))))
	return s.Records()
}
