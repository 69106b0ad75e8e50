package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// fakeDriver records calls and injects failures per resource ID.
type fakeDriver struct {
	mu        sync.Mutex
	calls     []string
	transient map[string]int
	invalid   map[string]string

	// block, when set, makes Create wait until it is closed.
	block chan struct{}
	// started receives the ID of every Create call when set.
	started chan string
	// afterCreate runs after a successful Create.
	afterCreate func(id string)
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		transient: make(map[string]int),
		invalid:   make(map[string]string),
	}
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string{}, d.calls...)
}

func (d *fakeDriver) fail(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if field, ok := d.invalid[id]; ok {
		return NewProviderValidationError(id, field, "rejected by provider", nil)
	}
	if d.transient[id] > 0 {
		d.transient[id]--
		return NewThrottledError("rate limited", nil)
	}
	return nil
}

func (d *fakeDriver) Create(_ context.Context, spec *ResourceSpec) (*ProviderResult, error) {
	d.record("create:" + spec.ID)
	if d.started != nil {
		d.started <- spec.ID
	}
	if d.block != nil {
		<-d.block
	}
	if err := d.fail(spec.ID); err != nil {
		return nil, err
	}
	if d.afterCreate != nil {
		d.afterCreate(spec.ID)
	}
	return &ProviderResult{
		ProviderIDs: map[string]string{"id": "fake-" + spec.ID},
		Outputs:     map[string]string{"name": spec.ID},
	}, nil
}

func (d *fakeDriver) Update(_ context.Context, spec *ResourceSpec, _ *ResourceState) (*ProviderResult, error) {
	d.record("update:" + spec.ID)
	if err := d.fail(spec.ID); err != nil {
		return nil, err
	}
	return &ProviderResult{}, nil
}

func (d *fakeDriver) Delete(_ context.Context, prior *ResourceState) error {
	d.record("delete:" + prior.ID)
	return d.fail(prior.ID)
}

// memBackend is a JSON-serializing in-memory backend with CAS and locking.
type memBackend struct {
	mu       sync.Mutex
	data     map[string][]byte
	versions map[string]int
	locks    map[string]LockInfo
	saves    int
}

func newMemBackend() *memBackend {
	return &memBackend{
		data:     make(map[string][]byte),
		versions: make(map[string]int),
		locks:    make(map[string]LockInfo),
	}
}

type memLock struct {
	b    *memBackend
	env  string
	info LockInfo
}

func (l *memLock) Info() LockInfo { return l.info }

func (l *memLock) Unlock(context.Context) error {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	delete(l.b.locks, l.env)
	return nil
}

func (b *memBackend) Lock(_ context.Context, env string, info LockInfo) (StateLock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if held, ok := b.locks[env]; ok {
		return nil, NewStateConflictError(fmt.Sprintf("state locked by %s (run %s)", held.Holder, held.RunID), nil).
			WithCode(ErrCodeLockHeld)
	}
	b.locks[env] = info
	return &memLock{b: b, env: env, info: info}, nil
}

func (b *memBackend) Load(_ context.Context, env string) (*StateSnapshot, Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.data[env]
	if !ok {
		return NewStateSnapshot(env), "", nil
	}
	var snap StateSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, "", err
	}
	return &snap, Version(strconv.Itoa(b.versions[env])), nil
}

func (b *memBackend) Save(_ context.Context, env string, snap *StateSnapshot, expected Version) (Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := Version("")
	if _, ok := b.data[env]; ok {
		current = Version(strconv.Itoa(b.versions[env]))
	}
	if current != expected {
		return "", NewStateConflictError("state version changed", nil).WithCode(ErrCodeStaleVersion)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	b.data[env] = raw
	b.versions[env]++
	b.saves++
	return Version(strconv.Itoa(b.versions[env])), nil
}

func (b *memBackend) snapshot(env string) *StateSnapshot {
	s, _, _ := b.Load(context.Background(), env)
	return s
}

func testSpec(id string, kind ResourceKind, deps ...string) *ResourceSpec {
	return &ResourceSpec{
		ID:       id,
		Kind:     kind,
		Provider: ProviderAWS,
		Attributes: map[string]interface{}{
			"name": id,
			"size": 20,
		},
		Immutable: []string{"name"},
		DependsOn: deps,
	}
}

func testEnv() Environment {
	return Environment{Name: "acme-dev", Provider: ProviderAWS, Tier: TierDev, Region: "us-east-1"}
}

func fastOptions(parallelism int) SchedulerOptions {
	return SchedulerOptions{
		Parallelism:    parallelism,
		MaxAttempts:    4,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		UnitTimeout:    5 * time.Second,
	}
}

// fullStack returns the eight kinds wired the way builders emit them.
func fullStack(externalDNS bool) []*ResourceSpec {
	addons := testSpec("cluster_addons", KindClusterAddons)
	addons.Attributes[AttrExternalDNSEnabled] = externalDNS
	return []*ResourceSpec{
		testSpec("database", KindDatabase),
		testSpec("object_storage", KindObjectStorage),
		testSpec("kubernetes_cluster", KindKubernetesCluster),
		testSpec("dns_zone", KindDNSZone),
		testSpec("message_broker", KindMessageBroker),
		testSpec("observability_stack", KindObservabilityStack),
		addons,
		testSpec("vector_store", KindVectorStore),
	}
}
