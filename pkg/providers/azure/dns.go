package azure

import (
	"strings"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// DNS zone attribute names.
const (
	AttrZoneType   = "zoneType"
	AttrDefaultTTL = "defaultTtl"
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
	zoneType := "Public"
	if providers.BoolOr(opts, config.OptPrivate, false) {
		zoneType = "Private"
	}
	attrs := map[string]interface{}{
		AttrName:          domain,
		AttrResourceGroup: ResourceGroup(env),
		AttrZoneType:      zoneType,
		AttrDefaultTTL:    providers.IntOr(opts, config.OptTTL, 300),
	}
	return b.NewSpec(cfg, env, attrs, AttrName, AttrResourceGroup, AttrZoneType)
}

func (b *zoneBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	s.Set(providers.OutDNSZoneID, s.Raw("id"))
	s.Set(providers.OutDNSZoneName, s.Raw("name"))
	s.Set(providers.OutDNSNameServers, strings.Join(providers.SplitList(s.Raw("name_servers")), ","))
	return s.Records()
}
