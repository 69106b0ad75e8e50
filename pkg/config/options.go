package config

import "github.com/openfroyo/cloudplan/pkg/engine"

// OptionType is the value shape an option normalizes to.
type OptionType string

const (
	TypeString  OptionType = "string"
	TypeInt     OptionType = "int"
	TypeBool    OptionType = "bool"
	TypeStrings OptionType = "strings"
	TypeMap     OptionType = "map"
)

// Option declares one logical option and the keys it may be written under.
type Option struct {
	// Name is the primary key. It has the highest priority.
	Name string

	// Aliases are alternate keys, in priority order.
	Aliases []string

	Type OptionType

	// Default applies when no candidate carries a value. Nil means none.
	Default interface{}
}

// Candidates returns the keys examined for the option, highest priority first.
func (o Option) Candidates() []string {
	return append([]string{o.Name}, o.Aliases...)
}

// Option names shared by several kinds.
const (
	OptDependsOn = "dependsOn"
	OptEngine    = "engine"
	OptVersion   = "version"
	OptReplicas  = "replicas"
	OptNamespace = "namespace"
	OptStorageGB = "storageGb"
)

// Environment option names.
const (
	OptName     = "name"
	OptProvider = "provider"
	OptTier     = "tier"
	OptRegion   = "region"
	OptLabels   = "labels"
)

// Database option names.
const (
	OptAllocatedStorageGB  = "allocatedStorageGb"
	OptStorageMB           = "storageMb"
	OptInstanceClass       = "instanceClass"
	OptMultiAZ             = "multiAz"
	OptBackupRetentionDays = "backupRetentionDays"
	OptDatabaseName        = "databaseName"
	OptUsername            = "username"
	OptDeletionProtection  = "deletionProtection"
)

// Object storage option names.
const (
	OptBucketName    = "bucketName"
	OptVersioning    = "versioning"
	OptLifecycleDays = "lifecycleDays"
	OptStorageClass  = "storageClass"
	OptPublicAccess  = "publicAccess"
)

// Kubernetes cluster option names.
const (
	OptClusterName      = "clusterName"
	OptNodeInstanceType = "nodeInstanceType"
	OptMinNodes         = "minNodes"
	OptMaxNodes         = "maxNodes"
	OptDesiredNodes     = "desiredNodes"
	OptNetworkCIDR      = "networkCidr"
	OptPrivateEndpoint  = "privateEndpoint"
)

// DNS zone option names.
const (
	OptDomain  = "domain"
	OptPrivate = "private"
	OptTTL     = "ttl"
)

// Message broker option names.
const (
	OptPersistenceGB = "persistenceGb"
	OptPersistenceMB = "persistenceMb"
	OptChartVersion  = "chartVersion"
)

// Observability option names.
const (
	OptRetentionDays  = "retentionDays"
	OptGrafanaEnabled = "grafanaEnabled"
)

// Cluster add-on option names.
const (
	OptIngressClass = "ingressClass"
	OptExternalDNS  = "externalDns"
	OptCertManager  = "certManager"
	OptACMEEmail    = "acmeEmail"
)

// Vector store option names.
const (
	OptCollection = "collection"
)

var dependsOnOption = Option{Name: OptDependsOn, Aliases: []string{"depends_on"}, Type: TypeStrings}

var environmentOptions = []Option{
	{Name: OptName, Aliases: []string{"project_name", "project", "environment_name"}, Type: TypeString},
	{Name: OptProvider, Aliases: []string{"cloud", "cloud_provider"}, Type: TypeString},
	{Name: OptTier, Aliases: []string{"stage", "environment_tier"}, Type: TypeString},
	{Name: OptRegion, Aliases: []string{"location"}, Type: TypeString},
	{Name: OptLabels, Aliases: []string{"tags"}, Type: TypeMap},
}

var catalog = map[engine.ResourceKind][]Option{
	engine.KindDatabase: {
		{Name: OptEngine, Type: TypeString, Default: "postgres"},
		{Name: OptVersion, Aliases: []string{"engine_version"}, Type: TypeString},
		{Name: OptAllocatedStorageGB, Aliases: []string{"storageGb", "allocated_storage", "storage_gb", "disk_size_gb"}, Type: TypeInt},
		{Name: OptStorageMB, Aliases: []string{"storage_mb"}, Type: TypeInt},
		{Name: OptInstanceClass, Aliases: []string{"instance_class", "sku", "machine_type"}, Type: TypeString},
		{Name: OptMultiAZ, Aliases: []string{"multi_az", "high_availability", "ha"}, Type: TypeBool},
		{Name: OptBackupRetentionDays, Aliases: []string{"backup_retention_days", "backup_retention"}, Type: TypeInt},
		{Name: OptDatabaseName, Aliases: []string{"db_name", "dbName"}, Type: TypeString, Default: "app"},
		{Name: OptUsername, Aliases: []string{"master_username", "admin_user"}, Type: TypeString, Default: "cloudplan"},
		{Name: OptDeletionProtection, Aliases: []string{"deletion_protection"}, Type: TypeBool},
		dependsOnOption,
	},
	engine.KindObjectStorage: {
		{Name: OptBucketName, Aliases: []string{"bucket", "bucket_name"}, Type: TypeString},
		{Name: OptVersioning, Aliases: []string{"versioning_enabled"}, Type: TypeBool},
		{Name: OptLifecycleDays, Aliases: []string{"lifecycle_days", "expiration_days", "retention_days"}, Type: TypeInt},
		{Name: OptStorageClass, Aliases: []string{"storage_class", "access_tier"}, Type: TypeString},
		{Name: OptPublicAccess, Aliases: []string{"public_access"}, Type: TypeBool},
		dependsOnOption,
	},
	engine.KindKubernetesCluster: {
		{Name: OptClusterName, Aliases: []string{"cluster_name"}, Type: TypeString},
		{Name: OptVersion, Aliases: []string{"kubernetes_version", "k8s_version"}, Type: TypeString, Default: "1.31"},
		{Name: OptNodeInstanceType, Aliases: []string{"node_instance_type", "machine_type", "vm_size", "node_size"}, Type: TypeString},
		{Name: OptMinNodes, Aliases: []string{"min_nodes", "min_size"}, Type: TypeInt},
		{Name: OptMaxNodes, Aliases: []string{"max_nodes", "max_size"}, Type: TypeInt},
		{Name: OptDesiredNodes, Aliases: []string{"desired_nodes", "node_count"}, Type: TypeInt},
		{Name: OptNetworkCIDR, Aliases: []string{"network_cidr", "vpc_cidr", "vnet_cidr", "cidr"}, Type: TypeString, Default: "10.0.0.0/16"},
		{Name: OptPrivateEndpoint, Aliases: []string{"private_endpoint"}, Type: TypeBool},
		dependsOnOption,
	},
	engine.KindDNSZone: {
		{Name: OptDomain, Aliases: []string{"zone_name", "domain_name", "zone"}, Type: TypeString},
		{Name: OptPrivate, Aliases: []string{"private_zone"}, Type: TypeBool},
		{Name: OptTTL, Type: TypeInt, Default: 300},
		dependsOnOption,
	},
	engine.KindMessageBroker: {
		{Name: OptEngine, Type: TypeString, Default: "rabbitmq"},
		{Name: OptReplicas, Type: TypeInt},
		{Name: OptPersistenceGB, Aliases: []string{"persistence_size_gb", "storage_size_gb"}, Type: TypeInt},
		{Name: OptPersistenceMB, Aliases: []string{"persistence_mb"}, Type: TypeInt},
		{Name: OptNamespace, Type: TypeString, Default: "messaging"},
		{Name: OptChartVersion, Aliases: []string{"chart_version"}, Type: TypeString},
		dependsOnOption,
	},
	engine.KindObservabilityStack: {
		{Name: OptRetentionDays, Aliases: []string{"retention_days", "retention"}, Type: TypeInt},
		{Name: OptGrafanaEnabled, Aliases: []string{"grafana_enabled", "grafana"}, Type: TypeBool},
		{Name: OptStorageGB, Aliases: []string{"storage_gb"}, Type: TypeInt},
		{Name: OptNamespace, Type: TypeString, Default: "monitoring"},
		dependsOnOption,
	},
	engine.KindClusterAddons: {
		{Name: OptIngressClass, Aliases: []string{"ingress_class"}, Type: TypeString, Default: "nginx"},
		{Name: OptExternalDNS, Aliases: []string{"external_dns", "external_dns_enabled"}, Type: TypeBool},
		{Name: OptCertManager, Aliases: []string{"cert_manager"}, Type: TypeBool},
		{Name: OptACMEEmail, Aliases: []string{"acme_email", "letsencrypt_email"}, Type: TypeString},
		dependsOnOption,
	},
	engine.KindVectorStore: {
		{Name: OptEngine, Type: TypeString, Default: "qdrant"},
		{Name: OptReplicas, Type: TypeInt},
		{Name: OptStorageGB, Aliases: []string{"storage_gb"}, Type: TypeInt},
		{Name: OptNamespace, Type: TypeString, Default: "vector"},
		{Name: OptCollection, Type: TypeString, Default: "default"},
		dependsOnOption,
	},
}

// Catalog returns the declared options of kind.
func Catalog(kind engine.ResourceKind) []Option {
	return catalog[kind]
}

// EnvironmentOptions returns the declared environment options.
func EnvironmentOptions() []Option {
	return environmentOptions
}
