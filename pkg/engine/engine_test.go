package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestEngine(driver Driver, backend StateBackend, parallelism int, opts ...Option) *Engine {
	opts = append([]Option{WithSchedulerOptions(fastOptions(parallelism))}, opts...)
	return New(driver, backend, opts...)
}

func TestEngine_Apply_CreatesEverything(t *testing.T) {
	driver := newFakeDriver()
	backend := newMemBackend()
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	run, err := newTestEngine(driver, backend, 4).Apply(context.Background(), testEnv(), graph)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if run.Status != RunStatusComplete {
		t.Errorf("Expected complete, got %s", run.Status)
	}
	if run.Summary.Applied != 8 {
		t.Errorf("Expected 8 applied, got %+v", run.Summary)
	}

	snap := backend.snapshot("acme-dev")
	if len(snap.Resources) != 8 {
		t.Errorf("Expected 8 resources in state, got %d", len(snap.Resources))
	}
	if snap.Serial != 8 {
		t.Errorf("Expected one state write per unit, got serial %d", snap.Serial)
	}
	if snap.Lineage == "" {
		t.Errorf("Expected lineage to be set")
	}
	if got := snap.Resources["database"].ProviderIDs["id"]; got != "fake-database" {
		t.Errorf("Expected provider id recorded, got %q", got)
	}
}

func TestEngine_Apply_RespectsDependencyOrder(t *testing.T) {
	driver := newFakeDriver()
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := newTestEngine(driver, newMemBackend(), 8).Apply(context.Background(), testEnv(), graph); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	position := make(map[string]int)
	for i, call := range driver.Calls() {
		position[call] = i
	}
	for _, dependent := range []string{"cluster_addons", "message_broker", "vector_store", "observability_stack"} {
		if position["create:"+dependent] < position["create:kubernetes_cluster"] {
			t.Errorf("Expected %s created after the cluster", dependent)
		}
	}
	if position["create:cluster_addons"] < position["create:dns_zone"] {
		t.Errorf("Expected cluster_addons created after dns_zone")
	}
}

func TestEngine_Apply_ThenPlanHasNoChanges(t *testing.T) {
	backend := newMemBackend()
	engine := newTestEngine(newFakeDriver(), backend, 4)
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := engine.Apply(context.Background(), testEnv(), graph); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	plan, err := engine.Plan(context.Background(), testEnv(), graph)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	for _, u := range plan.Units {
		if u.Operation != OperationNoop {
			t.Errorf("Expected noop for %s, got %s (%+v)", u.ID, u.Operation, u.Changes)
		}
	}
	if plan.HasChanges() {
		t.Errorf("Expected plan without changes")
	}
}

func TestEngine_Apply_RetriesTransientErrors(t *testing.T) {
	driver := newFakeDriver()
	driver.transient["database"] = 2
	graph, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	run, err := newTestEngine(driver, newMemBackend(), 1).Apply(context.Background(), testEnv(), graph)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if got := run.Results["database"].Attempts; got != 3 {
		t.Errorf("Expected 3 attempts, got %d", got)
	}
}

func TestEngine_Apply_GivesUpAfterMaxAttempts(t *testing.T) {
	driver := newFakeDriver()
	driver.transient["database"] = 10
	graph, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	run, err := newTestEngine(driver, newMemBackend(), 1).Apply(context.Background(), testEnv(), graph)
	if err == nil {
		t.Fatalf("Expected error")
	}
	if run.Status != RunStatusFailed {
		t.Errorf("Expected failed, got %s", run.Status)
	}
	if got := run.Results["database"].Attempts; got != 4 {
		t.Errorf("Expected 4 attempts, got %d", got)
	}
	if !errors.Is(err, ErrProviderTransient) {
		t.Errorf("Expected transient cause, got: %v", err)
	}
}

func TestEngine_Apply_ValidationErrorBlocksSubtree(t *testing.T) {
	driver := newFakeDriver()
	driver.invalid["kubernetes_cluster"] = "networkCidr"
	backend := newMemBackend()
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	run, err := newTestEngine(driver, backend, 4).Apply(context.Background(), testEnv(), graph)

	var pf *PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("Expected PartialFailureError, got: %v", err)
	}
	if run.Status != RunStatusPartiallyFailed {
		t.Errorf("Expected partially failed, got %s", run.Status)
	}
	if len(pf.Failures) != 1 || pf.Failures[0].ResourceID != "kubernetes_cluster" {
		t.Fatalf("Expected one failure on kubernetes_cluster, got %+v", pf.Failures)
	}

	var e *EngineError
	if !errors.As(pf.Failures[0].Err, &e) || e.Field != "networkCidr" {
		t.Errorf("Expected failure naming networkCidr, got: %v", pf.Failures[0].Err)
	}
	if got := run.Results["kubernetes_cluster"].Attempts; got != 1 {
		t.Errorf("Expected validation errors not to be retried, got %d attempts", got)
	}

	for _, id := range []string{"cluster_addons", "message_broker", "vector_store", "observability_stack"} {
		if got := run.Results[id].Status; got != NodeStatusBlocked {
			t.Errorf("Expected %s blocked, got %s", id, got)
		}
	}
	for _, id := range []string{"database", "object_storage", "dns_zone"} {
		if got := run.Results[id].Status; got != NodeStatusApplied {
			t.Errorf("Expected sibling %s applied, got %s", id, got)
		}
	}

	snap := backend.snapshot("acme-dev")
	if len(snap.Resources) != 3 {
		t.Errorf("Expected only the 3 applied siblings in state, got %v", snap.IDs())
	}
}

func TestEngine_Apply_ConcurrentRunGetsStateConflict(t *testing.T) {
	driver := newFakeDriver()
	driver.block = make(chan struct{})
	driver.started = make(chan string, 1)
	backend := newMemBackend()
	graph, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = newTestEngine(driver, backend, 1).Apply(context.Background(), testEnv(), graph)
	}()
	<-driver.started

	run, err := newTestEngine(newFakeDriver(), backend, 1).Apply(context.Background(), testEnv(), graph)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("Expected StateConflict, got: %v", err)
	}
	if run.Status != RunStatusFailed {
		t.Errorf("Expected failed, got %s", run.Status)
	}

	close(driver.block)
	wg.Wait()
	if firstErr != nil {
		t.Errorf("Expected first run to succeed, got: %v", firstErr)
	}
}

// versionBumper moves the stored version under a running apply.
type versionBumper struct {
	*memBackend
	once sync.Once
}

func (b *versionBumper) Save(ctx context.Context, env string, snap *StateSnapshot, expected Version) (Version, error) {
	b.once.Do(func() {
		_, _ = b.memBackend.Save(ctx, env, NewStateSnapshot(env), expected)
	})
	return b.memBackend.Save(ctx, env, snap, expected)
}

func TestEngine_Apply_StaleVersionStopsRun(t *testing.T) {
	backend := &versionBumper{memBackend: newMemBackend()}
	graph, err := Assemble([]*ResourceSpec{
		testSpec("database", KindDatabase),
		testSpec("object_storage", KindObjectStorage),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	run, err := newTestEngine(newFakeDriver(), backend, 1).Apply(context.Background(), testEnv(), graph)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("Expected StateConflict, got: %v", err)
	}
	if run.Status != RunStatusFailed {
		t.Errorf("Expected failed, got %s", run.Status)
	}
	if got := run.Results["object_storage"].Status; got != NodeStatusCancelled {
		t.Errorf("Expected object_storage never started, got %s", got)
	}
}

func TestEngine_Apply_CancelAfterTwoOfFive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := newFakeDriver()
	var mu sync.Mutex
	created := 0
	driver.afterCreate = func(string) {
		mu.Lock()
		defer mu.Unlock()
		created++
		if created == 2 {
			cancel()
		}
	}
	backend := newMemBackend()

	specs := []*ResourceSpec{
		testSpec("a", KindDatabase),
		testSpec("b", KindObjectStorage),
		testSpec("c", KindDatabase),
		testSpec("d", KindObjectStorage),
		testSpec("e", KindDatabase),
	}
	graph, err := Assemble(specs)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	run, err := newTestEngine(driver, backend, 1).Apply(ctx, testEnv(), graph)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected Cancelled, got: %v", err)
	}
	if run.Status != RunStatusCancelled {
		t.Errorf("Expected cancelled, got %s", run.Status)
	}
	if run.Summary.Applied != 2 || run.Summary.Cancelled != 3 {
		t.Errorf("Expected 2 applied and 3 cancelled, got %+v", run.Summary)
	}

	snap := backend.snapshot("acme-dev")
	if len(snap.Resources) != 2 {
		t.Fatalf("Expected exactly 2 resources in state, got %v", snap.IDs())
	}
	for id := range snap.Resources {
		if run.Results[id].Status != NodeStatusApplied {
			t.Errorf("Expected %s in state to be applied", id)
		}
	}
}

func TestEngine_Apply_RejectedApprovalAppliesNothing(t *testing.T) {
	driver := newFakeDriver()
	graph, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	reject := ApproverFunc(func(context.Context, *Plan) (bool, error) { return false, nil })

	run, err := newTestEngine(driver, newMemBackend(), 1, WithApprover(reject)).
		Apply(context.Background(), testEnv(), graph)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected Cancelled, got: %v", err)
	}
	if run.Status != RunStatusCancelled {
		t.Errorf("Expected cancelled, got %s", run.Status)
	}
	if len(driver.Calls()) != 0 {
		t.Errorf("Expected no driver calls, got %v", driver.Calls())
	}
}

type denyChecker struct{}

func (denyChecker) CheckPlan(context.Context, *Plan) (*PolicyResult, error) {
	return &PolicyResult{
		Allowed: false,
		Violations: []PolicyViolation{
			{Policy: "protect-stateful", Message: "no", Severity: "error", ResourceID: "database"},
		},
	}, nil
}

func TestEngine_Apply_PolicyDenial(t *testing.T) {
	driver := newFakeDriver()
	graph, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	_, err = newTestEngine(driver, newMemBackend(), 1, WithPlanChecker(denyChecker{})).
		Apply(context.Background(), testEnv(), graph)
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("Expected policy violation, got: %v", err)
	}
	if !errors.Is(err, ErrConfig) {
		t.Errorf("Expected policy violation to be a ConfigError")
	}
	if len(driver.Calls()) != 0 {
		t.Errorf("Expected no driver calls, got %v", driver.Calls())
	}
}

func TestEngine_Apply_ReplaceDeletesThenCreates(t *testing.T) {
	driver := newFakeDriver()
	backend := newMemBackend()
	engine := newTestEngine(driver, backend, 1)

	first, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := engine.Apply(context.Background(), testEnv(), first); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	renamed := testSpec("database", KindDatabase)
	renamed.Attributes["name"] = "database-v2"
	second, err := Assemble([]*ResourceSpec{renamed})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	run, err := engine.Apply(context.Background(), testEnv(), second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if run.Results["database"].Operation != OperationReplace {
		t.Fatalf("Expected replace, got %s", run.Results["database"].Operation)
	}

	calls := driver.Calls()
	want := []string{"create:database", "delete:database", "create:database"}
	if len(calls) != len(want) {
		t.Fatalf("Expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Expected call %d to be %s, got %s", i, want[i], calls[i])
		}
	}

	snap := backend.snapshot("acme-dev")
	if snap.Resources["database"].Attributes["name"] != "database-v2" {
		t.Errorf("Expected replaced attributes in state, got %v", snap.Resources["database"].Attributes)
	}
	// create, delete, create
	if snap.Serial != 3 {
		t.Errorf("Expected serial 3, got %d", snap.Serial)
	}
}

func clusterStack(clusterName string) []*ResourceSpec {
	cluster := testSpec("kubernetes_cluster", KindKubernetesCluster)
	cluster.Attributes["name"] = clusterName
	return []*ResourceSpec{
		cluster,
		testSpec("message_broker", KindMessageBroker, "kubernetes_cluster"),
		testSpec("vector_store", KindVectorStore, "kubernetes_cluster"),
	}
}

func callIndex(calls []string, call string) int {
	for i, c := range calls {
		if c == call {
			return i
		}
	}
	return -1
}

func TestEngine_Apply_ClusterReplacementRebuildsHostedUnits(t *testing.T) {
	driver := newFakeDriver()
	backend := newMemBackend()
	engine := newTestEngine(driver, backend, 4)

	first, err := Assemble(clusterStack("kubernetes_cluster"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := engine.Apply(context.Background(), testEnv(), first); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	before := len(driver.Calls())

	second, err := Assemble(clusterStack("kubernetes_cluster-v2"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	run, err := engine.Apply(context.Background(), testEnv(), second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	calls := driver.Calls()[before:]
	if len(calls) != 6 {
		t.Fatalf("Expected 3 deletes and 3 creates, got %v", calls)
	}
	deleteCluster := callIndex(calls, "delete:kubernetes_cluster")
	createCluster := callIndex(calls, "create:kubernetes_cluster")
	for _, id := range []string{"message_broker", "vector_store"} {
		if r := run.Results[id]; r.Operation != OperationReplace || r.Status != NodeStatusApplied {
			t.Errorf("Expected %s replaced, got %s/%s", id, r.Operation, r.Status)
		}
		if i := callIndex(calls, "delete:"+id); i < 0 || i > deleteCluster {
			t.Errorf("Expected delete:%s before the cluster delete, got %v", id, calls)
		}
		if i := callIndex(calls, "create:"+id); i < createCluster {
			t.Errorf("Expected create:%s after the cluster create, got %v", id, calls)
		}
	}

	plan, err := engine.Plan(context.Background(), testEnv(), second)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if plan.HasChanges() {
		t.Errorf("Expected no changes after replacement, got %+v", plan.Summary)
	}
}

func TestEngine_Apply_FailedClusterReplacementBlocksTornDownUnits(t *testing.T) {
	driver := newFakeDriver()
	backend := newMemBackend()
	engine := newTestEngine(driver, backend, 2)

	first, err := Assemble(clusterStack("kubernetes_cluster"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := engine.Apply(context.Background(), testEnv(), first); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	driver.invalid["kubernetes_cluster"] = "name"
	second, err := Assemble(clusterStack("kubernetes_cluster-v2"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	run, err := engine.Apply(context.Background(), testEnv(), second)
	var pf *PartialFailureError
	if !errors.As(err, &pf) {
		t.Fatalf("Expected PartialFailureError, got: %v", err)
	}

	if got := run.Results["kubernetes_cluster"].Status; got != NodeStatusFailed {
		t.Errorf("Expected cluster failed, got %s", got)
	}
	for _, id := range []string{"message_broker", "vector_store"} {
		r := run.Results[id]
		if r.Status != NodeStatusBlocked {
			t.Errorf("Expected %s blocked, got %s", id, r.Status)
		}
		var ee *EngineError
		if !errors.As(r.Err, &ee) || ee.Code != ErrCodeDependencyFailed {
			t.Errorf("Expected %s to carry a dependency error, got %v", id, r.Err)
		}
		if callIndex(driver.Calls(), "delete:"+id) < 0 {
			t.Errorf("Expected %s torn down before the cluster", id)
		}
	}
	snap := backend.snapshot("acme-dev")
	if _, ok := snap.Resources["message_broker"]; ok {
		t.Errorf("Expected torn-down broker removed from state")
	}
}

func TestEngine_Destroy_EmptiesState(t *testing.T) {
	driver := newFakeDriver()
	backend := newMemBackend()
	engine := newTestEngine(driver, backend, 4)
	graph, err := Assemble(fullStack(true))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if _, err := engine.Apply(context.Background(), testEnv(), graph); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	run, err := engine.Destroy(context.Background(), testEnv())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if run.Status != RunStatusComplete || run.Summary.Applied != 8 {
		t.Errorf("Expected 8 deletes applied, got %s %+v", run.Status, run.Summary)
	}
	if n := len(backend.snapshot("acme-dev").Resources); n != 0 {
		t.Errorf("Expected empty state, got %d resources", n)
	}

	position := make(map[string]int)
	for i, call := range driver.Calls() {
		position[call] = i
	}
	if position["delete:kubernetes_cluster"] < position["delete:message_broker"] {
		t.Errorf("Expected cluster deleted after the broker")
	}
	if position["delete:dns_zone"] < position["delete:cluster_addons"] {
		t.Errorf("Expected dns_zone deleted after cluster_addons")
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func (p *recordingPublisher) Publish(_ context.Context, e *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func TestEngine_Apply_PublishesStatusTransitions(t *testing.T) {
	pub := &recordingPublisher{}
	graph, err := Assemble([]*ResourceSpec{testSpec("database", KindDatabase)})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if _, err := newTestEngine(newFakeDriver(), newMemBackend(), 1, WithEventPublisher(pub)).
		Apply(context.Background(), testEnv(), graph); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var statuses []string
	for _, e := range pub.events {
		if e.Type == EventTypeRunStatusChanged {
			statuses = append(statuses, e.Message)
		}
	}
	want := []string{"planning", "awaiting_confirmation", "applying", "complete"}
	if len(statuses) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, statuses)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Errorf("Expected transition %d to be %s, got %s", i, want[i], statuses[i])
		}
	}
}
