// Package engine provides the core types and the plan/apply engine of cloudplan.
//
// # Overview
//
// The engine takes provider-specific resource specs, orders them in a
// dependency graph, diffs them against the last-applied state snapshot and
// applies the resulting units with a fixed-size worker pool:
//
//  1. Assemble - Build the DependencyGraph from ResourceSpecs (Assemble)
//  2. Plan - Diff every spec against the StateSnapshot (Planner)
//  3. Approve - Evaluate guardrails and ask for confirmation (PlanChecker, Approver)
//  4. Apply - Walk the graph, applying independent units in parallel (Scheduler)
//
// # State Machines
//
// Each unit moves Planned -> Diffed -> Applying -> Applied|Failed. Units whose
// dependency failed become Blocked and units never started because the run was
// cancelled become Cancelled.
//
// A run moves Loading -> Planning -> AwaitingConfirmation -> Applying and ends
// Complete, PartiallyFailed, Failed or Cancelled.
//
// # State
//
// The StateSnapshot is saved through a StateBackend after every unit, using
// compare-and-swap on the version returned by the previous save. Apply and
// destroy runs take the backend lock first; a second concurrent run fails
// with a StateConflict error.
//
// # Errors
//
// Errors are *EngineError values classified by Kind (the user-facing taxonomy)
// and Class (retry behavior). Use errors.Is with the Err* sentinels:
//
//	if errors.Is(err, engine.ErrStateConflict) {
//	    // another run holds the lock
//	}
package engine
