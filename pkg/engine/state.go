package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// stateWriter is the single writer of a run's snapshot. Every change is
// saved immediately, with the version token from the previous save, so a
// concurrent writer is detected instead of overwritten.
type stateWriter struct {
	mu      sync.Mutex
	backend StateBackend
	env     string
	snap    *StateSnapshot
	version Version
	instr   Instrumentation
}

func newStateWriter(backend StateBackend, env string, snap *StateSnapshot, version Version, instr Instrumentation) *stateWriter {
	return &stateWriter{
		backend: backend,
		env:     env,
		snap:    snap,
		version: version,
		instr:   instr,
	}
}

func (w *stateWriter) put(ctx context.Context, rs *ResourceState) error {
	return w.commit(ctx, func(s *StateSnapshot) {
		s.Resources[rs.ID] = rs
	})
}

func (w *stateWriter) remove(ctx context.Context, id string) error {
	return w.commit(ctx, func(s *StateSnapshot) {
		delete(s.Resources, id)
	})
}

func (w *stateWriter) commit(ctx context.Context, mutate func(*StateSnapshot)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	next := w.snap.Clone()
	mutate(next)
	next.Serial++
	next.UpdatedAt = time.Now().UTC()
	if next.Lineage == "" {
		next.Lineage = uuid.New().String()
	}

	version, err := w.backend.Save(ctx, w.env, next, w.version)
	w.instr.ObserveStateWrite(err)
	if err != nil {
		return err
	}
	w.snap = next
	w.version = version
	return nil
}

// snapshot returns the latest written snapshot.
func (w *stateWriter) snapshot() *StateSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snap
}
