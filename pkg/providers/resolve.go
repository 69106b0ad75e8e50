package providers

import (
	"fmt"
	"net"
	"strings"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Database engines every provider offers.
const (
	EnginePostgres = "postgres"
	EngineMySQL    = "mysql"
)

// DatabaseSettings are the provider-neutral database choices after tier defaults.
type DatabaseSettings struct {
	Engine string

	// Version is the requested engine version, empty for the provider default.
	Version string

	StorageGB int

	// InstanceClass is the requested class, empty for the tier default.
	InstanceClass string

	MultiAZ             bool
	BackupRetentionDays int
	DatabaseName        string
	Username            string
	DeletionProtection  bool
}

// ResolveDatabase applies tier defaults to the database section.
func ResolveDatabase(opts config.Options, tier engine.Tier) (DatabaseSettings, error) {
	if err := CheckSizing(opts, engine.KindDatabase); err != nil {
		return DatabaseSettings{}, err
	}
	p := Profile(tier)
	s := DatabaseSettings{
		Engine:              strings.ToLower(StringOr(opts, config.OptEngine, EnginePostgres)),
		Version:             opts.String(config.OptVersion),
		StorageGB:           SizeGB(opts, config.OptAllocatedStorageGB, config.OptStorageMB, p.DatabaseStorageGB),
		InstanceClass:       opts.String(config.OptInstanceClass),
		MultiAZ:             BoolOr(opts, config.OptMultiAZ, p.DatabaseMultiAZ),
		BackupRetentionDays: IntOr(opts, config.OptBackupRetentionDays, p.BackupRetentionDays),
		DatabaseName:        opts.String(config.OptDatabaseName),
		Username:            opts.String(config.OptUsername),
		DeletionProtection:  BoolOr(opts, config.OptDeletionProtection, p.DeletionProtection),
	}
	switch s.Engine {
	case "postgresql":
		s.Engine = EnginePostgres
	case EnginePostgres, EngineMySQL:
	default:
		return DatabaseSettings{}, engine.NewConfigError("database."+config.OptEngine,
			fmt.Sprintf("unsupported database engine %q", s.Engine)).
			WithResource(string(engine.KindDatabase)).WithCode(engine.ErrCodeInvalidValue)
	}
	return s, nil
}

// TierChoice picks one of three values by tier.
func TierChoice(tier engine.Tier, dev, staging, production string) string {
	switch tier {
	case engine.TierProduction:
		return production
	case engine.TierStaging:
		return staging
	default:
		return dev
	}
}

// BucketName returns the configured bucket name or one derived from the environment.
func BucketName(opts config.Options, env engine.Environment) string {
	return StringOr(opts, config.OptBucketName, ResourceName(env, "objects"))
}

// ClusterName returns the configured cluster name or one derived from the environment.
func ClusterName(opts config.Options, env engine.Environment, suffix string) string {
	return StringOr(opts, config.OptClusterName, ResourceName(env, suffix))
}

// NetworkCIDR returns the cluster network range, which must be an IPv4 CIDR.
func NetworkCIDR(opts config.Options) (string, error) {
	cidr := opts.String(config.OptNetworkCIDR)
	ip, network, err := net.ParseCIDR(cidr)
	if err != nil || ip.To4() == nil {
		return "", engine.NewConfigError("kubernetes_cluster."+config.OptNetworkCIDR,
			fmt.Sprintf("invalid IPv4 CIDR %q", cidr)).
			WithResource(string(engine.KindKubernetesCluster)).WithCode(engine.ErrCodeInvalidValue)
	}
	return network.String(), nil
}

// Domain returns the zone's domain without a trailing dot. It is required.
func Domain(opts config.Options) (string, error) {
	domain := strings.TrimSuffix(strings.ToLower(opts.String(config.OptDomain)), ".")
	if domain == "" || !strings.Contains(domain, ".") {
		return "", engine.NewConfigError("dns_zone."+config.OptDomain,
			fmt.Sprintf("a fully qualified domain is required, got %q", opts.String(config.OptDomain))).
			WithResource(string(engine.KindDNSZone)).WithCode(engine.ErrCodeInvalidValue)
	}
	return domain, nil
}

// SplitList splits a comma-separated raw output.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
