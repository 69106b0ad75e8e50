// Package state persists environment state snapshots. Every backend writes
// with compare-and-swap on an opaque version token and guards apply runs
// with a per-environment lock.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// Backend is a state backend the CLI can administer.
type Backend interface {
	engine.StateBackend

	// ForceUnlock removes the environment lock regardless of holder and
	// returns the lock that was removed, or nil when none was held.
	ForceUnlock(ctx context.Context, env string) (*engine.LockInfo, error)

	// Close releases backend resources.
	Close() error
}

// HealthChecker is implemented by backends that can verify their store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// lockHeld reports a lock owned by someone else.
func lockHeld(env string, held engine.LockInfo) error {
	return engine.NewStateConflictError(
		fmt.Sprintf("state for %q is locked by %s (run %s, %s since %s)",
			env, held.Holder, held.RunID, held.Operation, held.CreatedAt.Format(time.RFC3339)), nil).
		WithCode(engine.ErrCodeLockHeld).
		WithDetail("lockId", held.ID).
		WithDetail("runId", held.RunID)
}

// staleVersion reports a Save whose expected version no longer matches.
func staleVersion(env string, expected engine.Version, err error) error {
	return engine.NewStateConflictError(
		fmt.Sprintf("state for %q changed since version %q was read", env, expected), err).
		WithCode(engine.ErrCodeStaleVersion)
}

func encodeSnapshot(snap *engine.StateSnapshot) ([]byte, error) {
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state snapshot: %w", err)
	}
	return body, nil
}

func decodeSnapshot(env string, body []byte) (*engine.StateSnapshot, error) {
	snap := engine.NewStateSnapshot(env)
	if err := json.Unmarshal(body, snap); err != nil {
		return nil, fmt.Errorf("failed to decode state snapshot for %q: %w", env, err)
	}
	if snap.Resources == nil {
		snap.Resources = make(map[string]*engine.ResourceState)
	}
	return snap, nil
}
