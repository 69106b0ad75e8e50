package gcp

import (
	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// GCS attribute names.
const (
	AttrName                     = "name"
	AttrLocation                 = "location"
	AttrStorageClass             = "storageClass"
	AttrVersioning               = "versioning"
	AttrLifecycleAgeDays         = "lifecycleDeleteAgeDays"
	AttrUniformBucketLevelAccess = "uniformBucketLevelAccess"
	AttrPublicAccessPrevention   = "publicAccessPrevention"
	AttrForceDestroy             = "forceDestroy"
)

type bucketBuilder struct {
	providers.Base
}

func (b *bucketBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.Kind())
	prevention := "enforced"
	if providers.BoolOr(opts, config.OptPublicAccess, false) {
		prevention = "inherited"
	}
	attrs := map[string]interface{}{
		AttrName:                     providers.BucketName(opts, env),
		AttrLocation:                 env.Region,
		AttrProject:                  Project(env),
		AttrStorageClass:             providers.StringOr(opts, config.OptStorageClass, "STANDARD"),
		AttrVersioning:               providers.BoolOr(opts, config.OptVersioning, providers.Profile(env.Tier).StorageVersioning),
		AttrUniformBucketLevelAccess: true,
		AttrPublicAccessPrevention:   prevention,
		AttrForceDestroy:             env.Tier == engine.TierDev,
	}
	if days, ok := opts.Int(config.OptLifecycleDays); ok && days > 0 {
		attrs[AttrLifecycleAgeDays] = days
	}
	return b.NewSpec(cfg, env, attrs, AttrName, AttrLocation, AttrProject)
}

func (b *bucketBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	name := s.Raw("name")
	s.Set(providers.OutStorageBucket, name)
	s.Set(providers.OutStorageEndpoint, "https://storage.googleapis.com/"+name)
	s.Set(providers.OutStorageRegion, s.Attr(AttrLocation))
	return s.Records()
}
