// Package policy evaluates Open Policy Agent (Rego) guardrails against
// computed plans.
//
// Engine implements engine.PlanChecker. Every enabled policy contributes the
// members of its package's deny set; a member is either a message string or
// an object:
//
//	deny contains violation if {
//	    input.environment.tier == "production"
//	    some unit in input.units
//	    unit.kind == "message_broker"
//	    unit.operation == "replace"
//
//	    violation := {
//	        "message": sprintf("%s would drop queued messages", [unit.id]),
//	        "severity": "error",
//	        "resource": unit.id,
//	    }
//	}
//
// The input document carries the environment, the plan mode, one entry per
// unit (id, kind, provider, operation, attributes, changed and immutable
// attribute paths) and the operator context (allow_destroy, user).
//
// Violations with error severity deny the plan. Warnings are logged by the
// engine and never block.
//
// # Built-in Policies
//
//  1. protect-production-data - no delete or replace of production databases
//     or buckets without --allow-destroy
//  2. production-destroy - destroying a production environment needs --allow-destroy
//  3. replacement-notice - warns on every replacement
//  4. owner-label - warns when a production environment has no owner label
//
// Custom policies are loaded from .rego files (named after the file, error
// severity by default) or JSON definitions with LoadPolicies.
package policy
