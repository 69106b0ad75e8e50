package azure

import (
	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
	"github.com/openfroyo/cloudplan/pkg/providers"
)

// Flexible server attribute names.
const (
	AttrServerName           = "serverName"
	AttrResourceGroup        = "resourceGroup"
	AttrLocation             = "location"
	AttrServerKind           = "serverKind"
	AttrVersion              = "version"
	AttrSkuName              = "skuName"
	AttrStorageMB            = "storageMb"
	AttrHighAvailabilityMode = "highAvailabilityMode"
	AttrBackupRetentionDays  = "backupRetentionDays"
	AttrAdministratorLogin   = "administratorLogin"
	AttrDatabaseName         = "databaseName"
	AttrGeoRedundantBackup   = "geoRedundantBackup"
)

// Backup retention bounds of flexible servers.
const (
	minBackupRetentionDays = 7
	maxBackupRetentionDays = 35
)

var serverVersions = map[string]string{
	providers.EnginePostgres: "16",
	providers.EngineMySQL:    "8.0.21",
}

var serverKinds = map[string]string{
	providers.EnginePostgres: "postgresql_flexible_server",
	providers.EngineMySQL:    "mysql_flexible_server",
}

type databaseBuilder struct {
	providers.Base
}

func (b *databaseBuilder) Build(cfg *config.Canonical, env engine.Environment) (*engine.ResourceSpec, error) {
	db, err := providers.ResolveDatabase(cfg.Section(b.Kind()), env.Tier)
	if err != nil {
		return nil, err
	}
	ha := "Disabled"
	if db.MultiAZ {
		ha = "ZoneRedundant"
	}
	retention := db.BackupRetentionDays
	if retention < minBackupRetentionDays {
		retention = minBackupRetentionDays
	}
	if retention > maxBackupRetentionDays {
		retention = maxBackupRetentionDays
	}
	version := db.Version
	if version == "" {
		version = serverVersions[db.Engine]
	}
	sku := db.InstanceClass
	if sku == "" {
		sku = providers.TierChoice(env.Tier, "B_Standard_B1ms", "GP_Standard_D2s_v3", "GP_Standard_D4s_v3")
	}

	attrs := map[string]interface{}{
		AttrServerName:           providers.ResourceName(env, "db"),
		AttrResourceGroup:        ResourceGroup(env),
		AttrLocation:             env.Region,
		AttrServerKind:           serverKinds[db.Engine],
		AttrVersion:              version,
		AttrSkuName:              sku,
		AttrStorageMB:            db.StorageGB * 1024,
		AttrHighAvailabilityMode: ha,
		AttrBackupRetentionDays:  retention,
		AttrAdministratorLogin:   db.Username,
		AttrDatabaseName:         db.DatabaseName,
		AttrGeoRedundantBackup:   env.Tier == engine.TierProduction,
	}
	return b.NewSpec(cfg, env, attrs,
		AttrServerName, AttrResourceGroup, AttrLocation, AttrServerKind, AttrAdministratorLogin, AttrDatabaseName)
}

func (b *databaseBuilder) Outputs(state engine.ResourceState) ([]engine.OutputRecord, error) {
	s := providers.NewOutputSet(state)
	port := "5432"
	engineName := providers.EnginePostgres
	if s.Attr(AttrServerKind) == serverKinds[providers.EngineMySQL] {
		port = "3306"
		engineName = providers.EngineMySQL
	}
	s.Set(providers.OutDatabaseHost, s.Raw("fqdn"))
	s.Set(providers.OutDatabasePort, s.RawOr("port", port))
	s.Set(providers.OutDatabaseName, s.Raw("database_name"))
	s.Set(providers.OutDatabaseUsername, s.Raw("administrator_login"))
	s.Set(providers.OutDatabaseEngine, engineName)
	s.Set(providers.OutDatabasePasswordRef, s.Raw("password_secret_id"))
	return s.Records()
}
