package providers

import (
	"errors"
	"fmt"

	"github.com/openfroyo/cloudplan/pkg/config"
	"github.com/openfroyo/cloudplan/pkg/engine"
)

// TierProfile holds the tier-derived defaults builders start from.
type TierProfile struct {
	DatabaseStorageGB   int
	DatabaseMultiAZ     bool
	BackupRetentionDays int
	DeletionProtection  bool

	ClusterMinNodes     int
	ClusterMaxNodes     int
	ClusterDesiredNodes int

	StorageVersioning bool

	Replicas int

	ObservabilityRetentionDays int
	ObservabilityStorageGB     int
	BrokerPersistenceGB        int
	VectorStorageGB            int
}

// ProductionMinNodes is the smallest node count a production cluster runs with.
const ProductionMinNodes = 2

var profiles = map[engine.Tier]TierProfile{
	engine.TierDev: {
		DatabaseStorageGB:          20,
		DatabaseMultiAZ:            false,
		BackupRetentionDays:        1,
		DeletionProtection:         false,
		ClusterMinNodes:            1,
		ClusterMaxNodes:            3,
		ClusterDesiredNodes:        1,
		StorageVersioning:          false,
		Replicas:                   1,
		ObservabilityRetentionDays: 3,
		ObservabilityStorageGB:     20,
		BrokerPersistenceGB:        8,
		VectorStorageGB:            10,
	},
	engine.TierStaging: {
		DatabaseStorageGB:          50,
		DatabaseMultiAZ:            false,
		BackupRetentionDays:        7,
		DeletionProtection:         false,
		ClusterMinNodes:            2,
		ClusterMaxNodes:            5,
		ClusterDesiredNodes:        2,
		StorageVersioning:          true,
		Replicas:                   2,
		ObservabilityRetentionDays: 7,
		ObservabilityStorageGB:     50,
		BrokerPersistenceGB:        20,
		VectorStorageGB:            50,
	},
	engine.TierProduction: {
		DatabaseStorageGB:          100,
		DatabaseMultiAZ:            true,
		BackupRetentionDays:        30,
		DeletionProtection:         true,
		ClusterMinNodes:            3,
		ClusterMaxNodes:            10,
		ClusterDesiredNodes:        3,
		StorageVersioning:          true,
		Replicas:                   3,
		ObservabilityRetentionDays: 30,
		ObservabilityStorageGB:     200,
		BrokerPersistenceGB:        50,
		VectorStorageGB:            100,
	},
}

// Profile returns the defaults for tier. Unknown tiers get the dev profile.
func Profile(tier engine.Tier) TierProfile {
	if p, ok := profiles[tier]; ok {
		return p
	}
	return profiles[engine.TierDev]
}

// CeilMBToGB converts megabytes to gigabytes, rounding up.
func CeilMBToGB(mb int) int {
	if mb <= 0 {
		return 0
	}
	return (mb + 1023) / 1024
}

// sizingOptions are the sizes and counts read through SizeGB and IntOr.
var sizingOptions = []string{
	config.OptAllocatedStorageGB,
	config.OptStorageMB,
	config.OptBackupRetentionDays,
	config.OptMinNodes,
	config.OptMaxNodes,
	config.OptDesiredNodes,
	config.OptTTL,
	config.OptReplicas,
	config.OptPersistenceGB,
	config.OptPersistenceMB,
	config.OptRetentionDays,
	config.OptStorageGB,
}

// CheckSizing rejects a zero or negative size or count in the section of kind.
// Every offending field is reported.
func CheckSizing(opts config.Options, kind engine.ResourceKind) error {
	var errs []error
	for _, name := range sizingOptions {
		v, ok := opts.Int(name)
		if !ok || v > 0 {
			continue
		}
		errs = append(errs, engine.NewConfigError(string(kind)+"."+name,
			fmt.Sprintf("%s must be positive, got %d", name, v)).
			WithResource(string(kind)).WithCode(engine.ErrCodeInvalidValue))
	}
	return errors.Join(errs...)
}

// SizeGB resolves a size given as GB or legacy MB. The GB value wins, then
// the MB value converted with CeilMBToGB, then fallback. Callers run
// CheckSizing first.
func SizeGB(opts config.Options, gbOption, mbOption string, fallback int) int {
	if gb, ok := opts.Int(gbOption); ok {
		return gb
	}
	if mbOption != "" {
		if mb, ok := opts.Int(mbOption); ok {
			return CeilMBToGB(mb)
		}
	}
	return fallback
}

// IntOr returns the option value when set, fallback otherwise.
func IntOr(opts config.Options, name string, fallback int) int {
	if v, ok := opts.Int(name); ok {
		return v
	}
	return fallback
}

// BoolOr returns the option value when set, fallback otherwise.
func BoolOr(opts config.Options, name string, fallback bool) bool {
	if v, ok := opts.Bool(name); ok {
		return v
	}
	return fallback
}

// StringOr returns the option value when non-empty, fallback otherwise.
func StringOr(opts config.Options, name, fallback string) string {
	if v := opts.String(name); v != "" {
		return v
	}
	return fallback
}
