package aws

import (
	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// S3 attribute names.
const (
	AttrBucket            = "bucket"
	AttrVersioning        = "versioning"
	AttrLifecycleDays     = "expirationDays"
	AttrStorageClass      = "storageClass"
	AttrBlockPublicAccess = "blockPublicAccess"
	AttrForceDestroy      = "forceDestroy"
	AttrEncryption        = "serverSideEncryption"
)

type bucketBuilder struct {
	providers.Base
}

func (b *bucketBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	opts := cfg.Section(b.Kind())
	attrs := map[string]interface{}{
		AttrBucket:            providers.BucketName(opts, env),
		AttrRegion:            env.Region,
		AttrVersioning:        providers.BoolOr(opts, config.OptVersioning, providers.Profile(env.Tier).StorageVersioning),
		AttrStorageClass:      providers.StringOr(opts, config.OptStorageClass, "STANDARD"),
		AttrBlockPublicAccess: !providers.BoolOr(opts, config.OptPublicAccess, false),
		AttrForceDestroy:      env.Tier == engine.TierDev,
		AttrEncryption:        "aws:kms",
	}
	if days, ok := opts.Int(config.OptLifecycleDays); ok && days > 0 {
		attrs[AttrLifecycleDays] = days
	}
	return b.NewSpec(cfg, env, attrs, AttrBucket, AttrRegion)
}

func (b *bucketBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	s.Set(providers.OutStorageBucket, s.Raw("bucket"))
	s.Set(providers.OutStorageEndpoint, "https://"+s.Raw("bucket_regional_domain_name"))
	s.Set(providers.OutStorageRegion, s.Raw("region"))
	return s.Records()
}
