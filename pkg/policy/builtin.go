package policy

// Built-in policy names.
const (
	PolicyProtectProductionData = "protect-production-data"
	PolicyProductionDestroy     = "production-destroy"
	PolicyReplacementNotice     = "replacement-notice"
	PolicyOwnerLabel            = "owner-label"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectProductionDataPolicy(),
		productionDestroyPolicy(),
		replacementNoticePolicy(),
		ownerLabelPolicy(),
	}
}

// protectProductionDataPolicy blocks plans that would delete or replace
// data-bearing resources of a production environment.
func protectProductionDataPolicy() Policy {
	return Policy{
		Name:        PolicyProtectProductionData,
		Description: "Blocks deletion or replacement of production databases and buckets unless destruction is allowed",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"production", "data"},
		Rego: `package cloudplan.policies.protect_data

import rego.v1

data_kinds := {"database", "object_storage"}

destructive := {"delete", "replace"}

deny contains violation if {
	input.environment.tier == "production"
	not input.context.allow_destroy

	some unit in input.units
	unit.kind in data_kinds
	unit.operation in destructive

	violation := {
		"message": sprintf("%s %s would destroy production data; rerun with --allow-destroy to permit it", [unit.operation, unit.id]),
		"severity": "error",
		"resource": unit.id,
	}
}`,
	}
}

// productionDestroyPolicy requires explicit intent to tear down a production environment.
func productionDestroyPolicy() Policy {
	return Policy{
		Name:        PolicyProductionDestroy,
		Description: "Destroying a production environment requires --allow-destroy",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"production"},
		Rego: `package cloudplan.policies.production_destroy

import rego.v1

deny contains violation if {
	input.mode == "destroy"
	input.environment.tier == "production"
	not input.context.allow_destroy

	violation := {
		"message": sprintf("destroying production environment %s requires --allow-destroy", [input.environment.name]),
		"severity": "error",
	}
}`,
	}
}

// replacementNoticePolicy warns about every replacement so the operator
// sees which immutable attribute forced it.
func replacementNoticePolicy() Policy {
	return Policy{
		Name:        PolicyReplacementNotice,
		Description: "Warns when a resource is replaced because an immutable attribute changed",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"replace"},
		Rego: `package cloudplan.policies.replacement

import rego.v1

deny contains violation if {
	some unit in input.units
	unit.operation == "replace"

	violation := {
		"message": sprintf("%s will be replaced, forced by %v", [unit.id, unit.forces_replacement]),
		"severity": "warning",
		"resource": unit.id,
	}
}`,
	}
}

// ownerLabelPolicy asks production environments to name an owner.
func ownerLabelPolicy() Policy {
	return Policy{
		Name:        PolicyOwnerLabel,
		Description: "Production environments should carry an owner label",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"labels"},
		Rego: `package cloudplan.policies.owner_label

import rego.v1

deny contains violation if {
	input.environment.tier == "production"
	not input.environment.labels.owner

	violation := {
		"message": sprintf("production environment %s has no owner label", [input.environment.name]),
		"severity": "warning",
	}
}`,
	}
}
