package aws

import (
	"strings"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Route 53 attribute names.
const (
	AttrPrivateZone = "privateZone"
	AttrDefaultTTL  = "defaultTtl"
	AttrComment     = "comment"
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
	attrs := map[string]interface{}{
		AttrName:        domain,
		AttrPrivateZone: providers.BoolOr(opts, config.OptPrivate, false),
		AttrDefaultTTL:  providers.IntOr(opts, config.OptTTL, 300),
		AttrComment:     "managed by " + providers.ManagedBy + " for " + env.Name,
	}
	return b.NewSpec(cfg, env, attrs, AttrName, AttrPrivateZone)
}

func (b *zoneBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	s.Set(providers.OutDNSZoneID, s.Raw("zone_id"))
	s.Set(providers.OutDNSZoneName, s.Raw("name"))
	s.Set(providers.OutDNSNameServers, strings.Join(providers.SplitList(s.Raw("name_servers")), ","))
	return s.Records()
}
