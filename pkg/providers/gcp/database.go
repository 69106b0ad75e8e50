package gcp

import (
	"strings"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Cloud SQL attribute names.
const (
	AttrInstanceName      = "instanceName"
	AttrDatabaseVersion   = "databaseVersion"
	AttrRegion            = "region"
	AttrProject           = "project"
	AttrTier              = "tier"
	AttrDiskSizeGB        = "diskSizeGb"
	AttrDiskAutoresize    = "diskAutoresize"
	AttrAvailabilityType  = "availabilityType"
	AttrBackupEnabled     = "backupEnabled"
	AttrRetainedBackups   = "retainedBackups"
	AttrPointInTime       = "pointInTimeRecovery"
	AttrDatabaseName      = "databaseName"
	AttrUser              = "user"
	AttrDeletionProtected = "deletionProtection"
	AttrIPv4Enabled       = "ipv4Enabled"
)

var databaseVersions = map[string]string{
	providers.EnginePostgres: "POSTGRES_16",
	providers.EngineMySQL:    "MYSQL_8_0",
}

type databaseBuilder struct {
	providers.Base
}

func (b *databaseBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	db, err := providers.ResolveDatabase(cfg.Section(b.Kind()), env.Tier)
	if err != nil {
		return nil, err
	}
	version := databaseVersions[db.Engine]
	if db.Version != "" {
		// "16" becomes POSTGRES_16, "8.0" becomes MYSQL_8_0.
		version = strings.ToUpper(db.Engine) + "_" + strings.ReplaceAll(db.Version, ".", "_")
	}
	availability := "ZONAL"
	if db.MultiAZ {
		availability = "REGIONAL"
	}
	tier := db.InstanceClass
	if tier == "" {
		tier = providers.TierChoice(env.Tier, "db-f1-micro", "db-custom-2-7680", "db-custom-4-15360")
	}

	attrs := map[string]interface{}{
		AttrInstanceName:      providers.ResourceName(env, "db"),
		AttrDatabaseVersion:   version,
		AttrRegion:            env.Region,
		AttrProject:           Project(env),
		AttrTier:              tier,
		AttrDiskSizeGB:        db.StorageGB,
		AttrDiskAutoresize:    env.Tier != engine.TierDev,
		AttrAvailabilityType:  availability,
		AttrBackupEnabled:     true,
		AttrRetainedBackups:   db.BackupRetentionDays,
		AttrPointInTime:       env.Tier == engine.TierProduction,
		AttrDatabaseName:      db.DatabaseName,
		AttrUser:              db.Username,
		AttrDeletionProtected: db.DeletionProtection,
		AttrIPv4Enabled:       false,
	}
	return b.NewSpec(cfg, env, attrs, AttrInstanceName, AttrDatabaseVersion, AttrRegion, AttrProject, AttrDatabaseName, AttrUser)
}

func (b *databaseBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	port, engineName := "5432", providers.EnginePostgres
	if strings.HasPrefix(s.Attr(AttrDatabaseVersion), "MYSQL") {
		port, engineName = "3306", providers.EngineMySQL
	}
	s.Set(providers.OutDatabaseHost, s.Raw("private_ip_address"))
	s.Set(providers.OutDatabasePort, s.RawOr("port", port))
	s.Set(providers.OutDatabaseName, s.Raw("database_name"))
	s.Set(providers.OutDatabaseUsername, s.Raw("user"))
	s.Set(providers.OutDatabaseEngine, engineName)
	s.Set(providers.OutDatabasePasswordRef, s.Raw("password_secret"))
	return s.Records()
}
