package aws

import (
	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// RDS attribute names.
const (
	AttrIdentifier            = "identifier"
	AttrEngine                = "engine"
	AttrEngineVersion         = "engineVersion"
	AttrInstanceClass         = "instanceClass"
	AttrAllocatedStorageGB    = "allocatedStorageGb"
	AttrMultiAZ               = "multiAz"
	AttrBackupRetentionPeriod = "backupRetentionPeriod"
	AttrDBName                = "dbName"
	AttrUsername              = "username"
	AttrDeletionProtection    = "deletionProtection"
	AttrStorageEncrypted      = "storageEncrypted"
	AttrManageMasterPassword  = "manageMasterUserPassword"
	AttrRegion                = "region"
)

var engineVersions = map[string]string{
	providers.EnginePostgres: "16.4",
	providers.EngineMySQL:    "8.0.39",
}

type databaseBuilder struct {
	providers.Base
}

func (b *databaseBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	db, err := providers.ResolveDatabase(cfg.Section(b.Kind()), env.Tier)
	if err != nil {
		return nil, err
	}
	attrs := map[string]interface{}{
		AttrIdentifier:            providers.ResourceName(env, "db"),
		AttrEngine:                db.Engine,
		AttrEngineVersion:         providers.StringOr(cfg.Section(b.Kind()), config.OptVersion, engineVersions[db.Engine]),
		AttrInstanceClass:         providers.StringOr(cfg.Section(b.Kind()), config.OptInstanceClass, providers.TierChoice(env.Tier, "db.t3.micro", "db.t3.medium", "db.r6g.large")),
		AttrAllocatedStorageGB:    db.StorageGB,
		AttrMultiAZ:               db.MultiAZ,
		AttrBackupRetentionPeriod: db.BackupRetentionDays,
		AttrDBName:                db.DatabaseName,
		AttrUsername:              db.Username,
		AttrDeletionProtection:    db.DeletionProtection,
		AttrStorageEncrypted:      true,
		AttrManageMasterPassword:  true,
		AttrRegion:                env.Region,
	}
	return b.NewSpec(cfg, env, attrs, AttrIdentifier, AttrEngine, AttrDBName, AttrUsername, AttrRegion)
}

func (b *databaseBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	s.Set(providers.OutDatabaseHost, s.Raw("address"))
	s.Set(providers.OutDatabasePort, s.Raw("port"))
	s.Set(providers.OutDatabaseName, s.Raw("db_name"))
	s.Set(providers.OutDatabaseUsername, s.Raw("username"))
	s.Set(providers.OutDatabaseEngine, s.Raw("engine"))
	s.Set(providers.OutDatabasePasswordRef, s.Raw("master_user_secret_arn"))
	return s.Records()
}
