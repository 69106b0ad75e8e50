package state

import (
	"context"
	"strconv"
	"sync"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// MemoryBackend keeps state in process. Snapshots are stored encoded so
// callers never share mutable state with the backend.
type MemoryBackend struct {
	mu    sync.Mutex
	state map[string]memEntry
	locks map[string]engine.LockInfo
	runs  []*engine.Run
	next  int
}

type memEntry struct {
	body    []byte
	version engine.Version
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		state: make(map[string]memEntry),
		locks: make(map[string]engine.LockInfo),
	}
}

// Lock implements engine.StateBackend.
func (m *MemoryBackend) Lock(_ context.Context, env string, info engine.LockInfo) (engine.StateLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.locks[env]; ok {
		return nil, lockHeld(env, held)
	}
	m.locks[env] = info
	return &memLock{backend: m, env: env, info: info}, nil
}

// Load implements engine.StateBackend.
func (m *MemoryBackend) Load(_ context.Context, env string) (*engine.StateSnapshot, engine.Version, error) {
	m.mu.Lock()
	entry, ok := m.state[env]
	m.mu.Unlock()
	if !ok {
		return engine.NewStateSnapshot(env), "", nil
	}
	snap, err := decodeSnapshot(env, entry.body)
	if err != nil {
		return nil, "", err
	}
	return snap, entry.version, nil
}

// Save implements engine.StateBackend.
func (m *MemoryBackend) Save(_ context.Context, env string, snap *engine.StateSnapshot, expected engine.Version) (engine.Version, error) {
	body, err := encodeSnapshot(snap)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state[env].version != expected {
		return "", staleVersion(env, expected, nil)
	}
	m.next++
	version := engine.Version(strconv.Itoa(m.next))
	m.state[env] = memEntry{body: body, version: version}
	return version, nil
}

// ForceUnlock implements Backend.
func (m *MemoryBackend) ForceUnlock(_ context.Context, env string) (*engine.LockInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held, ok := m.locks[env]
	if !ok {
		return nil, nil
	}
	delete(m.locks, env)
	return &held, nil
}

// RecordRun implements engine.RunRecorder.
func (m *MemoryBackend) RecordRun(_ context.Context, run *engine.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

// Runs returns the recorded runs in order.
func (m *MemoryBackend) Runs() []*engine.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*engine.Run(nil), m.runs...)
}

// Close implements Backend.
func (m *MemoryBackend) Close() error { return nil }

type memLock struct {
	backend *MemoryBackend
	env     string
	info    engine.LockInfo
}

func (l *memLock) Info() engine.LockInfo { return l.info }

// Unlock releases the lock if it is still the one this handle took.
func (l *memLock) Unlock(_ context.Context) error {
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()
	if held, ok := l.backend.locks[l.env]; ok && held.ID == l.info.ID {
		delete(l.backend.locks, l.env)
	}
	return nil
}

var (
	_ Backend            = (*MemoryBackend)(nil)
	_ engine.RunRecorder = (*MemoryBackend)(nil)
)
