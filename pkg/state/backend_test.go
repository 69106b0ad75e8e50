package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// fakeS3 is an object store that honours If-Match and If-None-Match.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	serial  int
	puts    int
}

type fakeObject struct {
	body []byte
	etag string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(bytes.NewReader(obj.body)),
		ETag: awssdk.String(obj.etag),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++

	existing, exists := f.objects[*in.Key]
	if in.IfNoneMatch != nil && exists {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	if in.IfMatch != nil && (!exists || existing.etag != *in.IfMatch) {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}

	f.serial++
	etag := fmt.Sprintf("%q", fmt.Sprintf("etag-%d", f.serial))
	f.objects[*in.Key] = fakeObject{body: body, etag: etag}
	return &s3.PutObjectOutput{ETag: awssdk.String(etag)}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

// backends returns a fresh instance of every backend.
func backends(t *testing.T) map[string]Backend {
	t.Helper()

	sqlite, err := OpenSQLite(context.Background(), SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "state.db"),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite backend: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Backend{
		"memory": NewMemoryBackend(),
		"sqlite": sqlite,
		"s3":     NewS3Backend(newFakeS3(), "state-bucket", "cloudplan"),
	}
}

func testSnapshot(env string, serial int64) *engine.StateSnapshot {
	snap := engine.NewStateSnapshot(env)
	snap.Lineage = "lineage-1"
	snap.Serial = serial
	snap.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	snap.Resources["database"] = &engine.ResourceState{
		ID:         "database",
		Kind:       engine.KindDatabase,
		Provider:   engine.ProviderAWS,
		Attributes: map[string]interface{}{"engine": "postgres"},
		Outputs:    map[string]string{"address": "db.internal"},
	}
	return snap
}

func TestBackend_LoadMissing(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			snap, version, err := b.Load(context.Background(), "acme-dev")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if version != "" {
				t.Errorf("expected empty version, got %q", version)
			}
			if snap.Environment != "acme-dev" || len(snap.Resources) != 0 {
				t.Errorf("expected empty snapshot for acme-dev, got %+v", snap)
			}
		})
	}
}

func TestBackend_SaveAndLoad(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v1, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 1), "")
			if err != nil {
				t.Fatalf("first Save failed: %v", err)
			}
			if v1 == "" {
				t.Fatal("expected a version from Save")
			}

			snap, version, err := b.Load(ctx, "acme-dev")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if version != v1 {
				t.Errorf("expected version %q, got %q", v1, version)
			}
			if snap.Serial != 1 || snap.Lineage != "lineage-1" {
				t.Errorf("unexpected snapshot header: serial=%d lineage=%q", snap.Serial, snap.Lineage)
			}
			db := snap.Resources["database"]
			if db == nil || db.Outputs["address"] != "db.internal" {
				t.Fatalf("database resource not round-tripped: %+v", db)
			}

			v2, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 2), v1)
			if err != nil {
				t.Fatalf("second Save failed: %v", err)
			}
			if v2 == v1 {
				t.Error("expected a new version after Save")
			}
		})
	}
}

func TestBackend_SaveStaleVersion(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			v1, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 1), "")
			if err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if _, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 2), v1); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			// A writer still holding v1 must not overwrite the newer state.
			_, err = b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 2), v1)
			if !errors.Is(err, engine.ErrStateConflict) {
				t.Fatalf("expected state conflict, got %v", err)
			}
			var ee *engine.EngineError
			if !errors.As(err, &ee) || ee.Code != engine.ErrCodeStaleVersion {
				t.Errorf("expected code %s, got %v", engine.ErrCodeStaleVersion, err)
			}

			// Creating state that already exists is also a conflict.
			if _, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 1), ""); !errors.Is(err, engine.ErrStateConflict) {
				t.Errorf("expected conflict when state exists, got %v", err)
			}

			snap, _, err := b.Load(ctx, "acme-dev")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if snap.Serial != 2 {
				t.Errorf("expected serial 2 after rejected writes, got %d", snap.Serial)
			}
		})
	}
}

func TestBackend_EnvironmentsAreIsolated(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 1), ""); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if _, err := b.Save(ctx, "acme-prod", testSnapshot("acme-prod", 1), ""); err != nil {
				t.Fatalf("Save for second environment failed: %v", err)
			}
			for _, env := range []string{"acme-dev", "acme-prod"} {
				snap, _, err := b.Load(ctx, env)
				if err != nil {
					t.Fatalf("Load %s failed: %v", env, err)
				}
				if snap.Environment != env {
					t.Errorf("expected environment %s, got %s", env, snap.Environment)
				}
			}
		})
	}
}

func TestBackend_Lock(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := engine.LockInfo{ID: "lock-1", RunID: "run-1", Holder: "alice@ci", Operation: "apply", CreatedAt: time.Now().UTC()}

			lock, err := b.Lock(ctx, "acme-dev", first)
			if err != nil {
				t.Fatalf("Lock failed: %v", err)
			}
			if lock.Info().RunID != "run-1" {
				t.Errorf("expected run-1, got %s", lock.Info().RunID)
			}

			_, err = b.Lock(ctx, "acme-dev", engine.LockInfo{ID: "lock-2", RunID: "run-2", Holder: "bob@laptop", Operation: "destroy"})
			if !errors.Is(err, engine.ErrStateConflict) {
				t.Fatalf("expected state conflict on second lock, got %v", err)
			}
			var ee *engine.EngineError
			if !errors.As(err, &ee) || ee.Code != engine.ErrCodeLockHeld {
				t.Fatalf("expected code %s, got %v", engine.ErrCodeLockHeld, err)
			}
			if !bytes.Contains([]byte(ee.Message), []byte("alice@ci")) || !bytes.Contains([]byte(ee.Message), []byte("run-1")) {
				t.Errorf("expected holder and run in message, got %q", ee.Message)
			}

			// Other environments are not affected.
			other, err := b.Lock(ctx, "acme-prod", engine.LockInfo{ID: "lock-3", RunID: "run-3", Holder: "bob@laptop"})
			if err != nil {
				t.Fatalf("Lock for another environment failed: %v", err)
			}
			_ = other.Unlock(ctx)

			if err := lock.Unlock(ctx); err != nil {
				t.Fatalf("Unlock failed: %v", err)
			}
			again, err := b.Lock(ctx, "acme-dev", engine.LockInfo{ID: "lock-4", RunID: "run-4", Holder: "bob@laptop"})
			if err != nil {
				t.Fatalf("Lock after Unlock failed: %v", err)
			}
			_ = again.Unlock(ctx)
		})
	}
}

func TestBackend_StaleUnlockKeepsNewLock(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old, err := b.Lock(ctx, "acme-dev", engine.LockInfo{ID: "old", RunID: "run-1", Holder: "alice@ci"})
			if err != nil {
				t.Fatalf("Lock failed: %v", err)
			}
			if _, err := b.ForceUnlock(ctx, "acme-dev"); err != nil {
				t.Fatalf("ForceUnlock failed: %v", err)
			}
			if _, err := b.Lock(ctx, "acme-dev", engine.LockInfo{ID: "new", RunID: "run-2", Holder: "bob@laptop"}); err != nil {
				t.Fatalf("Lock after ForceUnlock failed: %v", err)
			}

			// The old handle must not release the lock it no longer owns.
			if err := old.Unlock(ctx); err != nil {
				t.Fatalf("stale Unlock failed: %v", err)
			}
			if _, err := b.Lock(ctx, "acme-dev", engine.LockInfo{ID: "third", RunID: "run-3"}); !errors.Is(err, engine.ErrStateConflict) {
				t.Errorf("expected the new lock to survive a stale unlock, got %v", err)
			}
		})
	}
}

func TestBackend_ForceUnlock(t *testing.T) {
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			held, err := b.ForceUnlock(ctx, "acme-dev")
			if err != nil {
				t.Fatalf("ForceUnlock without lock failed: %v", err)
			}
			if held != nil {
				t.Errorf("expected no lock, got %+v", held)
			}

			if _, err := b.Lock(ctx, "acme-dev", engine.LockInfo{ID: "lock-1", RunID: "run-1", Holder: "alice@ci", Operation: "apply"}); err != nil {
				t.Fatalf("Lock failed: %v", err)
			}
			held, err = b.ForceUnlock(ctx, "acme-dev")
			if err != nil {
				t.Fatalf("ForceUnlock failed: %v", err)
			}
			if held == nil || held.RunID != "run-1" || held.Holder != "alice@ci" {
				t.Errorf("expected the removed lock to be reported, got %+v", held)
			}
		})
	}
}

func TestS3Backend_Keys(t *testing.T) {
	fake := newFakeS3()
	b := NewS3Backend(fake, "state-bucket", "teams/platform")
	ctx := context.Background()

	if _, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 1), ""); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := b.Lock(ctx, "acme-dev", engine.LockInfo{ID: "lock-1"}); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	for _, key := range []string{"teams/platform/acme-dev/state.json", "teams/platform/acme-dev/state.lock"} {
		if _, ok := fake.objects[key]; !ok {
			t.Errorf("expected object %s", key)
		}
	}
}

func TestS3Backend_ConditionalWriteConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"precondition code", &smithy.GenericAPIError{Code: "PreconditionFailed"}, true},
		{"concurrent conditional write", &smithy.GenericAPIError{Code: "ConditionalRequestConflict"}, true},
		{"other api error", &smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{"plain error", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPreconditionFailed(tt.err); got != tt.want {
				t.Errorf("isPreconditionFailed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSQLiteBackend_RunsAndEvents(t *testing.T) {
	ctx := context.Background()
	b, err := OpenSQLite(ctx, SQLiteConfig{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("failed to open sqlite backend: %v", err)
	}
	defer b.Close()

	if err := b.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck failed: %v", err)
	}

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	run := &engine.Run{
		ID:          "run-1",
		Environment: "acme-dev",
		Mode:        engine.PlanModeApply,
		Status:      engine.RunStatusApplying,
		StartedAt:   started,
	}
	if err := b.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	completed := started.Add(time.Minute)
	run.Status = engine.RunStatusComplete
	run.CompletedAt = &completed
	run.Summary = engine.RunSummary{Total: 2, Applied: 2}
	if err := b.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun update failed: %v", err)
	}

	runs, err := b.ListRuns(ctx, "acme-dev", 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	got := runs[0]
	if got.Status != engine.RunStatusComplete || got.Summary.Applied != 2 {
		t.Errorf("unexpected run: status=%s summary=%+v", got.Status, got.Summary)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("expected completion time %v, got %v", completed, got.CompletedAt)
	}

	events := []*engine.Event{
		{RunID: "run-1", Type: engine.EventTypeRunStarted, Level: "info", Message: "apply run started", Timestamp: started},
		{RunID: "run-1", ResourceID: "database", Type: engine.EventTypeUnitCompleted, Level: "info", Message: "create database done",
			Timestamp: started.Add(time.Second), Data: map[string]interface{}{"attempts": 1}},
		{RunID: "run-2", Type: engine.EventTypeRunStarted, Level: "info", Message: "other run", Timestamp: started},
	}
	for _, e := range events {
		if err := b.Publish(ctx, e); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
		if e.ID == "" {
			t.Error("expected Publish to assign an event id")
		}
	}

	logged, err := b.Events(ctx, "run-1")
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("expected 2 events for run-1, got %d", len(logged))
	}
	if logged[1].ResourceID != "database" || logged[1].Data["attempts"] != float64(1) {
		t.Errorf("unexpected second event: %+v", logged[1])
	}
}

func TestSQLiteBackend_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.db")

	b, err := Open(ctx, Options{Kind: KindSQLite, SQLite: SQLiteConfig{Path: path}})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	version, err := b.Save(ctx, "acme-dev", testSnapshot("acme-dev", 1), "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	_ = b.Close()

	// Migrations are idempotent and state survives reopening.
	b, err = Open(ctx, Options{SQLite: SQLiteConfig{Path: path}})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b.Close()
	_, got, err := b.Load(ctx, "acme-dev")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != version {
		t.Errorf("expected version %q after reopen, got %q", version, got)
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	if _, err := Open(context.Background(), Options{Kind: "etcd"}); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

func TestMemoryBackend_RecordRun(t *testing.T) {
	b := NewMemoryBackend()
	run := &engine.Run{ID: "run-1", Status: engine.RunStatusComplete}
	if err := b.RecordRun(context.Background(), run); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	run.Status = engine.RunStatusFailed
	if got := b.Runs(); len(got) != 1 || got[0].Status != engine.RunStatusComplete {
		t.Errorf("expected a recorded copy, got %+v", got)
	}
}
