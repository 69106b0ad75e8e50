package azure

import (
	"fmt"
	"strings"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Storage account attribute names.
const (
	AttrStorageAccountName    = "storageAccountName"
	AttrContainerName         = "containerName"
	AttrAccountTier           = "accountTier"
	AttrReplicationType       = "replicationType"
	AttrAccessTier            = "accessTier"
	AttrBlobVersioning        = "blobVersioning"
	AttrDeleteAfterDays       = "deleteAfterDays"
	AttrAllowBlobPublicAccess = "allowBlobPublicAccess"
	AttrMinTLSVersion         = "minTlsVersion"
)

const maxStorageAccountNameChars = 24

var accessTiers = map[string]string{"hot": "Hot", "cool": "Cool", "cold": "Cold", "archive": "Archive"}

type storageBuilder struct {
	providers.Base
}

func (b *storageBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.Kind())
	container := providers.BucketName(opts, env)
	requested := providers.StringOr(opts, config.OptStorageClass, "hot")
	tier, ok := accessTiers[strings.ToLower(requested)]
	if !ok {
		return nil, engine.NewConfigError("object_storage."+config.OptStorageClass,
			fmt.Sprintf("unsupported access tier %q", requested)).
			WithResource(string(b.Kind())).WithCode(engine.ErrCodeInvalidValue)
	}
	attrs := map[string]interface{}{
		AttrStorageAccountName:    providers.CompactName(env, "objects", maxStorageAccountNameChars),
		AttrContainerName:         container,
		AttrResourceGroup:         ResourceGroup(env),
		AttrLocation:              env.Region,
		AttrAccountTier:           "Standard",
		AttrReplicationType:       providers.TierChoice(env.Tier, "LRS", "ZRS", "GZRS"),
		AttrAccessTier:            tier,
		AttrBlobVersioning:        providers.BoolOr(opts, config.OptVersioning, providers.Profile(env.Tier).StorageVersioning),
		AttrAllowBlobPublicAccess: providers.BoolOr(opts, config.OptPublicAccess, false),
		AttrMinTLSVersion:         "TLS1_2",
	}
	if days, ok := opts.Int(config.OptLifecycleDays); ok && days > 0 {
		attrs[AttrDeleteAfterDays] = days
	}
	return b.NewSpec(cfg, env, attrs, AttrStorageAccountName, AttrContainerName, AttrResourceGroup, AttrLocation)
}

func (b *storageBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	endpoint := strings.TrimSuffix(s.Raw("primary_blob_endpoint"), "/")
	container := s.Raw("container_name")
	s.Set(providers.OutStorageBucket, container)
	s.Set(providers.OutStorageEndpoint, endpoint+"/"+container)
	s.Set(providers.OutStorageRegion, s.Raw("location"))
	return s.Records()
}
