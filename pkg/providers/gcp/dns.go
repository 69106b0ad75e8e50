package gcp

import (
	"strings"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Cloud DNS attribute names.
const (
	AttrDNSName    = "dnsName"
	AttrVisibility = "visibility"
	AttrDefaultTTL = "defaultTtl"
	AttrDNSSEC     = "dnssec"
)

type zoneBuilder struct {
	providers.Base
}

func (b *zoneBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.Kind())
	domain, err := providers.Domain(opts)
	if err != nil {
		return nil, err
	}
	visibility := "public"
	if providers.BoolOr(opts, config.OptPrivate, false) {
		visibility = "private"
	}
	attrs := map[string]interface{}{
		AttrName:       strings.ReplaceAll(domain, ".", "-"),
		AttrDNSName:    domain + ".",
		AttrProject:    Project(env),
		AttrVisibility: visibility,
		AttrDefaultTTL: providers.IntOr(opts, config.OptTTL, 300),
		AttrDNSSEC:     visibility == "public" && env.Tier == engine.TierProduction,
	}
	return b.NewSpec(cfg, env, attrs, AttrName, AttrDNSName, AttrProject, AttrVisibility)
}

func (b *zoneBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	s.Set(providers.OutDNSZoneID, s.Raw("id"))
	s.Set(providers.OutDNSZoneName, strings.TrimSuffix(s.Raw("dns_name"), "."))
	s.Set(providers.OutDNSNameServers, strings.Join(providers.SplitList(s.Raw("name_servers")), ","))
	return s.Records()
}
